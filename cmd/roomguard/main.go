// roomguard watches a room, decides who may act in it and talks down
// anyone who may not.
package main

import "github.com/ppiankov/roomguard/internal/cli"

func main() {
	cli.Execute()
}
