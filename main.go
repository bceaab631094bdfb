// Package main runs the grounding-dino vision service as a Viam module.
package main

import (
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"

	"github.com/mcvella/grounding-dino/detector"
)

func main() {
	detector.Register()
	module.ModularMain(resource.APIModel{API: vision.API, Model: detector.Model})
}
