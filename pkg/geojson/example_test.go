package geojson_test

import (
	"fmt"
	"log"

	"github.com/robert-malhotra/reservoir-area/pkg/geojson"
)

func ExampleToWKT() {
	g, err := geojson.NewPolygonFromBBox([]float64{113.9, 22.5, 114.0, 22.6})
	if err != nil {
		log.Fatal(err)
	}

	wkt, err := geojson.ToWKT(g)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(wkt)
	// Output: POLYGON((113.9 22.5,114 22.5,114 22.6,113.9 22.6,113.9 22.5))
}

func ExampleFromWKT() {
	g, err := geojson.FromWKT("POLYGON((0 0,2 0,2 1,0 1,0 0))")
	if err != nil {
		log.Fatal(err)
	}

	bbox, _ := g.BBox()
	fmt.Println(g.Type, bbox)
	// Output: Polygon [0 0 2 1]
}

func ExampleRegion_Contains() {
	g, _ := geojson.NewPolygonFromBBox([]float64{0, 0, 0.01, 0.01})

	// Grow the outline by 100 m.
	region, err := geojson.NewRegion(g, 100)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(region.Contains(0.005, 0.005))
	fmt.Println(region.Contains(-0.0005, 0.005))
	fmt.Println(region.Contains(-0.01, 0.005))
	// Output:
	// true
	// true
	// false
}
