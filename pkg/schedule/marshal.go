package schedule

import (
	"encoding/json"
	"fmt"
)

func marshalLockCommand(cmd LockCommand) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal lock command: %w", err)
	}
	return data, nil
}
