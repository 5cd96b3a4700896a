package main

import "github.com/meigma/imagefv/cmd/fvextract/cmd"

func main() {
	cmd.Execute()
}
