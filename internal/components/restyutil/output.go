package restyutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type Output interface {
	Write(id string, contents string)
}

// FilesystemOutput writes every message to its own file in a directory.
type FilesystemOutput struct {
	directory string
}

func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return FilesystemOutput{}, fmt.Errorf("create http dump directory: %w", err)
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id+".txt"), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}

// Dump writes every request made by `client` together with its response to
// `output`, numbered in the order the responses arrive. Responses that are
// not parsed by resty (streamed downloads) are not dumped.
func Dump(client *resty.Client, output Output) {
	var idcounter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := strconv.FormatUint(atomic.AddUint64(&idcounter, 1), 10)
		output.Write(id, formatHttpMessage(res))
		return nil
	})
}
