package main

import "github.com/forPelevin/clipscout/internal/cli"

func main() { cli.Main() }
