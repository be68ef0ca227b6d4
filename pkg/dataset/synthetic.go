package dataset

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/leaky-pager/pkg/query"
)

type geoPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

type geoShape struct {
	Type     string      `json:"type"`
	Geometry geoGeometry `json:"geometry"`
}

type geoGeometry struct {
	Type        string           `json:"type"`
	Coordinates [][][3]float64 `json:"coordinates"`
}

// Synthetic generates n deterministic records over the full schema, centred
// on the historic porticoes of Bologna.
func Synthetic(n int) *Memory {
	m := &Memory{records: make([]record, 0, max(n, 0))}

	for i := 0; i < n; i++ {
		lon := 11.3426 + float64(i%100)*0.0001
		lat := 44.4939 + float64(i/100)*0.0001

		values := map[string]any{
			"geo_point_2d": geoPoint{Lon: lon, Lat: lat},
			"geo_shape": geoShape{
				Type: "Feature",
				Geometry: geoGeometry{
					Type: "Polygon",
					Coordinates: [][][3]float64{{
						{lon, lat, 0},
						{lon + 0.00005, lat, 0},
						{lon + 0.00005, lat + 0.00005, 0},
						{lon, lat, 0},
					}},
				},
			},
			"name":                              fmt.Sprintf("Portico %d", i+1),
			"etichetta":                         fmt.Sprintf("P-%04d", i+1),
			"notetesto":                         "",
			"numeroantico":                      fmt.Sprintf("%d", 1000+i),
			"numeromoderno":                     fmt.Sprintf("%d", i+1),
			"link1":                             fmt.Sprintf("https://example.org/portici/%d", i+1),
			"link2":                             "",
			"link3":                             "",
			"piani":                             fmt.Sprintf("%d", 2+i%4),
			"arcate":                            fmt.Sprintf("%d", 3+i%7),
			"architravate":                      yesNo(i%3 == 0),
			"architravate_con_colonne_di_legno": yesNo(i%11 == 0),
			"archivolti":                        yesNo(i%2 == 0),
			"modiglioni":                        yesNo(i%5 == 0),
			"mensoloni_architravati":            yesNo(i%7 == 0),
			"stalla_e":                          yesNo(i%13 == 0),
			"fienile_i":                         yesNo(i%17 == 0),
			"rimessa_e":                         yesNo(i%19 == 0),
			"scuderia_e":                        yesNo(i%23 == 0),
			"attivita_commerciali_produttive_1": shop(i, 1),
			"attivita_commerciali_produttive_2": shop(i, 2),
			"attivita_commerciali_produttive_3": shop(i, 3),
			"attivita_commerciali_produttive_4": shop(i, 4),
			"attivita_commerciali_produttive_5": shop(i, 5),
		}

		fields := make(map[string]json.RawMessage, len(values))
		for k, v := range values {
			encoded, _ := json.Marshal(v)
			fields[k] = encoded
		}
		m.records = append(m.records, record{raw: encodeOrdered(fields), fields: fields})
	}

	return m
}

func encodeOrdered(fields map[string]json.RawMessage) json.RawMessage {
	return project(record{fields: fields}, query.Fields)
}

func yesNo(b bool) string {
	if b {
		return "si"
	}
	return "no"
}

var trades = []string{"", "bar", "forno", "libreria", "farmacia", "bottega"}

func shop(i, slot int) string {
	if i%slot != 0 {
		return ""
	}
	return trades[(i/slot)%len(trades)]
}
