package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// newRequestCommands returns one command per HTTP verb
func newRequestCommands() []*cobra.Command {
	return []*cobra.Command{
		newRequestCommand(http.MethodGet, false),
		newRequestCommand(http.MethodPost, true),
		newRequestCommand(http.MethodPut, true),
		newRequestCommand(http.MethodPatch, true),
		newRequestCommand(http.MethodDelete, false),
	}
}

func newRequestCommand(method string, acceptsBody bool) *cobra.Command {
	var data string

	name := strings.ToLower(method)
	cmd := &cobra.Command{
		Use:   name + " PATH",
		Short: fmt.Sprintf("Send an authenticated %s request", method),
		Long: fmt.Sprintf(`Send an authenticated %s request to PATH, relative to the context's base URL.

An expired access token is refreshed once and the request retried. The JSON
response is pretty-printed to stdout.`, method),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)

			path := args[0]
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}

			var body any
			if data != "" {
				payload, err := readPayload(data, cmd.InOrStdin())
				if err != nil {
					return err
				}
				body = payload
			}

			var out json.RawMessage
			if err := cliCtx.Client.Do(cmd.Context(), method, path, body, &out); err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	if acceptsBody {
		cmd.Flags().StringVarP(&data, "data", "d", "",
			"JSON request body; @FILE reads a file, @- reads stdin")
	}

	return cmd
}

// readPayload resolves --data into validated JSON
func readPayload(data string, stdin io.Reader) (json.RawMessage, error) {
	raw := []byte(data)
	if strings.HasPrefix(data, "@") {
		var err error
		if data == "@-" {
			raw, err = io.ReadAll(stdin)
		} else {
			raw, err = os.ReadFile(strings.TrimPrefix(data, "@"))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// writeJSON pretty-prints a JSON document; an empty response prints nothing
func writeJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
