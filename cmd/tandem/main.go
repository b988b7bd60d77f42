// Command tandem plays Jamendo and Spotify tracks from the terminal.
package main

import "github.com/tessro/tandem/internal/cli"

func main() {
	cli.Execute()
}
