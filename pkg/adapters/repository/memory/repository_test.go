package memory

import (
	"testing"

	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/repository/repotest"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

func TestRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) ports.LinkGateway {
		return NewRepository()
	})
}
