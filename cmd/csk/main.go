// Command csk is the local workflow kernel's command-line front end.
package main

import "github.com/csk-next/csk/internal/cmdcli"

func main() {
	cmdcli.Execute()
}
