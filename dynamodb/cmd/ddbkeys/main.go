// ddbkeys is a command line companion for entity schemas.
//
// # Installation
//
//	go install github.com/acksell/ddbentity/dynamodb/cmd/ddbkeys@latest
//
// # Commands
//
//	ddbkeys validate      Compile schema files and report errors
//	ddbkeys keys          Compose the physical keys of an item
//	ddbkeys cursor        Encode or decode pagination cursors
//	ddbkeys get           Read one item through its entity
//	ddbkeys create-table  Create the table a schema file declares
//
// # Quick Start
//
//	ddbkeys validate
//	ddbkeys keys schema_dynamodb.yaml --entity order --set sector=A1 --set id=X1
//	ddbkeys get schema_dynamodb.yaml --entity order --set sector=A1 --set id=X1 --local ./data
//
// Configuration is read from .ddbkeys.yaml in the current directory or any
// parent, and from DDBKEYS_ environment variables:
//
//	table: app
//	region: eu-west-1
//	endpoint: http://localhost:8000
//	log:
//	  level: debug
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ddbkeys: %v\n", err)
		os.Exit(1)
	}
}
