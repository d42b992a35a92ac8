package main

// Backends that can be selected with -reference and -accelerator.

import (
	_ "github.com/gomlx/gomlx/backends/simplego"
	_ "github.com/gomlx/gomlx/backends/xla"
)
