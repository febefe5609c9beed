package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// ForkSession implements NativeForker for RPC-adapter tools: it spawns a
// short-lived instance of the same tool binary, asks it to fork the given
// provider session over the same stdio JSON-RPC bridge Execute uses, reads
// back the new provider session id, and exits (spec §4.5 "Native fork...
// invoke it to create a new provider session id forked from the parent's").
func (t *RPCAdapterTransport) ForkSession(ctx context.Context, parentProviderSessionID string) (string, error) {
	if parentProviderSessionID == "" {
		return "", fmt.Errorf("rpc fork: no parent provider session id")
	}

	cmd := exec.CommandContext(ctx, t.Command, t.BaseArgs...)
	cmd.Env = filteredEnviron()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("rpc fork: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("rpc fork: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("rpc fork: start %s: %w", t.Command, err)
	}
	defer func() {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	req := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      intPtr(1),
		Method:  "session/fork",
		Params:  map[string]any{"provider_session_id": parentProviderSessionID},
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return "", fmt.Errorf("rpc fork: write request: %w", err)
	}

	respCh := make(chan jsonrpcResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		dec := json.NewDecoder(stdout)
		var resp jsonrpcResponse
		if err := dec.Decode(&resp); err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return "", resp.Error
		}
		var result struct {
			ProviderSessionID string `json:"provider_session_id"`
		}
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return "", fmt.Errorf("rpc fork: decode result: %w", err)
		}
		if result.ProviderSessionID == "" {
			return "", fmt.Errorf("rpc fork: empty provider session id returned")
		}
		return result.ProviderSessionID, nil
	case err := <-errCh:
		return "", fmt.Errorf("rpc fork: %w", err)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func intPtr(i int) *int { return &i }
