package main

import "github.com/andresmejia3/cameo/cmd"

func main() {
	cmd.Execute()
}
