package main

import "github.com/andresmejia3/sentinel-watch/cmd"

func main() {
	cmd.Execute()
}
