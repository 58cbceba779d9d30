// Command ranksctl inspects and drives progression documents in a local
// SQLite database.
package main

import "github.com/gamilit/ranks-engine/internal/interface/cli"

func main() {
	cli.Execute()
}
