package main

import (
	"os"

	"github.com/openmx/mailmapd/coremain"

	_ "github.com/openmx/mailmapd/pkg/dict/memdict"
	_ "github.com/openmx/mailmapd/pkg/dict/pgdict"
	_ "github.com/openmx/mailmapd/pkg/dict/redisdict"
	_ "github.com/openmx/mailmapd/pkg/dict/sqldict"
	_ "github.com/openmx/mailmapd/pkg/dict/texthash"
)

func main() {
	if err := coremain.Run(); err != nil {
		os.Exit(1)
	}
}
