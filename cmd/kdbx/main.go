// kdbx reads and writes KeePass KDBX 3.1 and 4.x databases.
//
// Commands:
//   - create: new database, empty or from an XML document
//   - export: decrypt and write the XML document
//   - resave: re-encrypt with fresh seeds or new credentials
//   - info: show the unencrypted header
//   - keyfile, factor: generate key files and multi-factor info files
package main

import (
	"os"

	"kdbx-ng/internal/cli"
)

// version is the application version reported by --version.
const version = "v0.3.0"

func main() {
	os.Exit(cli.Execute(version))
}
