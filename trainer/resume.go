package trainer

import "github.com/neurlang/finetune/checkpoint"
import "github.com/neurlang/finetune/model"

// Resume loads the weights at path into m when load is set. A missing file
// is a *checkpoint.NotFoundError.
func Resume(m model.Model, cp *checkpoint.Manager, load bool, path string) error {
	if !load {
		return nil
	}
	return cp.Load(m, path)
}
