// Command odmctl inspects and edits the collections of a document store:
//
//	odmctl --driver sqlite --dsn ./odm.db find users '{"a": {"$gt": 30}}' --sort "a desc"
//	odmctl --config odm.yaml count users
//	odmctl indexes create users email --unique
//
// Criteria are MongoDB extended JSON, so {"_id": {"$oid": "..."}} matches
// an ObjectId. Field names are storage keys; no model aliases apply here.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
