package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"poetry-tutor/internal/pipeline"
)

func newInvokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <callable>",
		Short: "Run one operation locally and print its result",
		Example: `  poetry-tutor invoke rhymeScheme --data '{"poem":"roses are red, violets are blue"}'
  echo '{"num1":2,"num2":3}' | poetry-tutor invoke addNumbers -F -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inline, _ := cmd.Flags().GetString("data")
			file, _ := cmd.Flags().GetString("file")
			req, err := readInvokeData(inline, file, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			env, err := a.pipeline.Invoke(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return writeEnvelope(cmd.OutOrStdout(), env)
		},
	}

	cmd.Flags().String("data", "", "Request data as a JSON object")
	cmd.Flags().StringP("file", "F", "", "Read request data from a file, or - for stdin")
	return cmd
}

// readInvokeData decodes the request object from the inline flag or a file.
// Both forms accept either the bare data object or a {"data": {...}} envelope.
func readInvokeData(inline, file string, stdin io.Reader) (pipeline.Request, error) {
	if inline != "" && file != "" {
		return nil, errors.New("use either --data or --file, not both")
	}

	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = data
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read request file: %w", err)
		}
		raw = data
	default:
		return pipeline.Request{}, nil
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return pipeline.Request{}, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var obj map[string]any
	if err := decoder.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode request data: %w", err)
	}
	if inner, ok := obj["data"].(map[string]any); ok && len(obj) == 1 {
		obj = inner
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return pipeline.Request(obj), nil
}

func writeEnvelope(w io.Writer, env pipeline.Envelope) error {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err := io.WriteString(w, buf.String())
	return err
}
