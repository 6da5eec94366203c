package memory_test

import (
	"testing"

	"github.com/xraph/paysync/store"
	"github.com/xraph/paysync/store/memory"
	"github.com/xraph/paysync/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}
