package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/camlink-app/camlink/camstub"
)

func main() {
	addr := flag.String("addr", ":4001", "listen address")
	flag.Parse()

	log.Println("camstubd listening on", *addr)
	if err := http.ListenAndServe(*addr, camstub.New().Handler()); err != nil {
		log.Fatal(err)
	}
}
