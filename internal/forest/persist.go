package forest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"mltrack/internal/errors"
)

// Flavor names the model format when the forest is logged as a run model
func (rf *RandomForest) Flavor() string {
	return "go_random_forest"
}

// FileName is the payload name inside a logged model directory
func (rf *RandomForest) FileName() string {
	return "model.json"
}

// Save writes the fitted forest as JSON
func (rf *RandomForest) Save(w io.Writer) error {
	if len(rf.Trees) == 0 {
		return errors.InvalidState("random forest is not fitted")
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(rf); err != nil {
		return errors.Wrap(err, "failed to encode random forest")
	}
	return nil
}

// SaveFile writes the forest to path
func (rf *RandomForest) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := rf.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a forest written by Save and checks its node tables
func Load(r io.Reader) (*RandomForest, error) {
	var rf RandomForest
	if err := json.NewDecoder(r).Decode(&rf); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "failed to decode random forest"))
	}
	if len(rf.Trees) == 0 || len(rf.Classes) == 0 {
		return nil, errors.InvalidInput("random forest file has no trees")
	}
	for i, tree := range rf.Trees {
		if err := tree.checkNodes(len(rf.Classes), rf.NFeatures); err != nil {
			return nil, errors.Wrapf(err, "tree %d", i)
		}
	}
	return &rf, nil
}

// LoadFile reads a forest from path
func LoadFile(path string) (*RandomForest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	return Load(f)
}

func (t *DecisionTree) checkNodes(nClasses, nFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.InvalidInput("tree has no nodes")
	}
	if t.NFeatures != nFeatures {
		return errors.InvalidInput(fmt.Sprintf("tree expects %d features, forest %d", t.NFeatures, nFeatures))
	}
	for i, n := range t.Nodes {
		if len(n.Value) != nClasses {
			return errors.InvalidInput(fmt.Sprintf("node %d has %d class values, expected %d", i, len(n.Value), nClasses))
		}
		if n.IsLeaf() {
			continue
		}
		// Children always come after their parent, so this also rules out cycles.
		if n.Feature < 0 || n.Feature >= nFeatures || n.Left <= i || n.Right <= i ||
			n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return errors.InvalidInput(fmt.Sprintf("node %d is malformed", i))
		}
	}
	return nil
}
