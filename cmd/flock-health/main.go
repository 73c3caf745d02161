// flock-health probes a running server the same way a federating peer
// would: resolve the address (well-known lookup included), fetch /flock
// and check compatibility. Exit code 0 means the server would federate.
package main

import (
	"flag"
	"fmt"
	"os"

	"flock/pkg/federation"
)

func main() {
	addr := flag.String("addr", "http://localhost:4268", "server address or domain to probe")
	flag.Parse()

	url, err := federation.FindActualServerURL(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve %s: %v\n", *addr, err)
		os.Exit(1)
	}
	info, err := federation.Probe(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe %s: %v\n", url, err)
		os.Exit(1)
	}

	name := info.PublicName
	if name == "" {
		name = federation.FakeServerName(url)
	}
	fmt.Printf("url:     %s\n", url)
	fmt.Printf("name:    %s\n", name)
	fmt.Printf("version: %s\n", info.Version)
	if !info.Compatible() {
		fmt.Fprintln(os.Stderr, "server responded but is not compatible")
		os.Exit(1)
	}
	fmt.Println("status:  ok")
}
