// flock-inspect dumps store keys for offline debugging. Run it against a
// stopped server; pebble takes an exclusive lock.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"flock/pkg/store"
)

func main() {
	db := flag.String("db", "./.database", "pebble DB path")
	prefix := flag.String("prefix", "", "key prefix filter (e.g. chat:, group:, user:)")
	values := flag.Bool("values", false, "print values as well as keys")
	flag.Parse()

	if err := store.Open(*db); err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *db, err)
		os.Exit(1)
	}
	defer store.Close()

	keys, err := store.ListKeys(*prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list keys: %v\n", err)
		os.Exit(1)
	}
	for _, k := range keys {
		if !*values {
			fmt.Println(k)
			continue
		}
		var raw json.RawMessage
		if ok, err := store.GetJSON(k, &raw); err != nil || !ok {
			fmt.Printf("%s\t<unreadable: %v>\n", k, err)
			continue
		}
		val := string(raw)
		if len(val) > 200 {
			val = val[:200] + "..."
		}
		fmt.Printf("%s\t%s\n", k, strings.ReplaceAll(val, "\n", " "))
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", len(keys))
}
