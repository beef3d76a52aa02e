package worker

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/sentinel-watch/internal/utils" // Using the SafeCommand wrapper
)

// PythonWorker is one long-lived embedding engine process.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewPythonWorker starts `python -u script` with a side-channel pipe on FD 3 for responses.
func NewPythonWorker(id int, python, script string) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(python, "-u", script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one request and blocks until the response arrives.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Logs returns the child's stderr so far.
func (w *PythonWorker) Logs() string {
	return w.Cmd.Logs()
}

// Kill terminates the process without waiting for it to drain.
func (w *PythonWorker) Kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
}

// Close shuts the pipes and reaps the process.
func (w *PythonWorker) Close() {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Wait()
	}
}
