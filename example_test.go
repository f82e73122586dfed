package annidx_test

import (
	"context"
	"fmt"
	"log"

	annidx "github.com/annidx/annidx"
	"github.com/annidx/annidx/distance"
)

func Example() {
	ctx := context.Background()

	idx, err := annidx.New(4,
		annidx.WithMetric(distance.MetricL2),
		annidx.WithRandomSeed(42),
	)
	if err != nil {
		log.Fatal(err)
	}

	vectors := map[uint64][]float32{
		1: {1, 0, 0, 0},
		2: {0, 1, 0, 0},
		3: {0, 0, 1, 0},
	}
	for id, vec := range vectors {
		if err := idx.Add(ctx, id, vec); err != nil {
			log.Fatal(err)
		}
	}

	results, err := idx.Search(ctx, []float32{0.9, 0.1, 0, 0}, 1, nil)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(results[0].ID)
	// Output: 1
}
