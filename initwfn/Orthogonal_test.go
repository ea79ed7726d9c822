package initwfn

import (
	"encoding/json"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// TestOrthogonalColumns checks that initialized weight matrices have
// orthogonal columns of norm equal to the gain.
func TestOrthogonalColumns(t *testing.T) {
	gain := math.Sqrt2
	init, err := NewOrthogonal(gain, 42)
	if err != nil {
		t.Fatalf("could not create initializer: %v", err)
	}

	shapes := [][2]int{{64, 64}, {18, 5}, {5, 18}}
	for _, shape := range shapes {
		rows, cols := shape[0], shape[1]
		backing := init.InitWFn()(tensor.Float64, rows, cols).([]float64)
		if len(backing) != rows*cols {
			t.Fatalf("wrong backing size \n\twant(%v)\n\thave(%v)",
				rows*cols, len(backing))
		}
		w := mat.NewDense(rows, cols, backing)

		// For tall matrices the columns are mutually orthogonal; for
		// wide matrices the rows are
		var gram mat.Dense
		if rows >= cols {
			gram.Mul(w.T(), w)
		} else {
			gram.Mul(w, w.T())
		}

		n, _ := gram.Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				want := 0.0
				if i == j {
					want = gain * gain
				}
				if math.Abs(gram.At(i, j)-want) > 1e-8 {
					t.Errorf("shape %v: gram[%v][%v] \n\twant(%v)"+
						"\n\thave(%v)", shape, i, j, want, gram.At(i, j))
				}
			}
		}
	}
}

// TestOrthogonalVectorFallsBackToZero checks that vector weights are
// zero initialized.
func TestOrthogonalVectorFallsBackToZero(t *testing.T) {
	init, err := NewOrthogonal(1.0, 42)
	if err != nil {
		t.Fatalf("could not create initializer: %v", err)
	}

	backing := init.InitWFn()(tensor.Float64, 10).([]float64)
	for _, v := range backing {
		if v != 0 {
			t.Errorf("vector weight should be zero \n\thave(%v)", v)
		}
	}
}

// TestInitWFnJSON checks that initializer configurations survive a
// JSON round trip.
func TestInitWFnJSON(t *testing.T) {
	init, err := NewOrthogonal(1.5, 7)
	if err != nil {
		t.Fatalf("could not create initializer: %v", err)
	}

	data, err := json.Marshal(init)
	if err != nil {
		t.Fatalf("could not marshal: %v", err)
	}

	var decoded InitWFn
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("could not unmarshal: %v", err)
	}

	config, ok := decoded.Config.(OrthogonalConfig)
	if !ok {
		t.Fatalf("wrong config type decoded: %T", decoded.Config)
	}
	if config.Gain != 1.5 || config.Seed != 7 {
		t.Errorf("config fields \n\twant(1.5, 7)\n\thave(%v, %v)",
			config.Gain, config.Seed)
	}
	if decoded.InitWFn() == nil {
		t.Error("decoded initializer should be usable")
	}
}
