// Command mql runs metric queries, materializations and validations against
// an MQL server.
package main

import (
	"os"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}
