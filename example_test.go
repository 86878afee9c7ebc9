package docrepl_test

import (
	"fmt"

	"github.com/autom8ter/docrepl"
)

func ExampleLoadConfig() {
	cfg, err := docrepl.LoadConfig([]byte(`
provider: badger
providerParams:
  storage_path: ./data
source:
  type: mongo
  params:
    uri: mongodb://localhost:27017/?replicaSet=rs0
batchSize: 500
httpAddr: :8080
`))
	if err != nil {
		panic(err)
	}
	fmt.Println(cfg.Provider, cfg.Source.Type, cfg.BatchSize, cfg.PollTimeout)
	// Output: badger mongo 500 1s
}
