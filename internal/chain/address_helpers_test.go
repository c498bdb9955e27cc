package chain

import (
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

func addressFromUint160(u util.Uint160) string {
	return address.Uint160ToString(u)
}
