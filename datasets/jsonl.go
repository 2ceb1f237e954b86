package datasets

import "bufio"
import "context"
import "encoding/json"
import "os"
import "path/filepath"

import "github.com/pkg/errors"

// JSONLSource reads <Dir>/<split>.jsonl, one {"text": ..., "label": ...}
// object per line. Blank lines are skipped.
type JSONLSource struct {
	Dir string
}

func (j JSONLSource) Retrieve(ctx context.Context, split Split) ([]Sample, error) {
	name := filepath.Join(j.Dir, string(split)+".jsonl")
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []Sample
	var line int
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var s Sample
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			return nil, errors.Wrapf(err, "%s:%d", name, line)
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, name)
	}
	return out, nil
}

func (j JSONLSource) String() string {
	return "jsonl:" + j.Dir
}
