// catalogd is the operational entry point of the catalog control plane:
// schema migration, background task workers, and storage checks. The HTTP
// API layer is deployed separately and binds against the packages under
// internal/.
package main

import (
	"catalog.evalgo.org/cli"
)

func main() {
	cli.Execute()
}
