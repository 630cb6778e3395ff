package main

import (
	"fmt"

	"github.com/outpost-embedded/nvram"
	"github.com/outpost-embedded/nvram/emulatedflash"
)

func main() {
	flash := emulatedflash.New(64*1024, 4096, false)
	mgr := nvram.NewManager(flash, nil)
	mgr.InitializeDefault(nvram.InitReset)

	id := nvram.NewID("TEST")
	s := nvram.NewFixedStorage[[8]byte](mgr, id)

	s.Add([8]byte{1, 2, 3, 4, 5, 6, 7, 8})
	s.Add([8]byte{9, 10, 11, 12, 13, 14, 15, 16})

	v, ok := s.NewestFirst()
	fmt.Printf("newest: %v (ok=%v), pagesAvailable=%d\n", v, ok, mgr.PagesAvailable())
}
