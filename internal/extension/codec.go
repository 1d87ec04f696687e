package extension

import (
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

// Frames above this size go through sonic; screenshots are the usual case.
const largeFrameBytes = 10 * 1024

func encodeCommand(cmd *types.LinkCommand) ([]byte, error) {
	if len(cmd.Params) > largeFrameBytes {
		return sonic.Marshal(cmd)
	}
	return json.Marshal(cmd)
}

func decodeReply(data []byte) (*types.LinkReply, error) {
	var reply types.LinkReply
	var err error
	if len(data) > largeFrameBytes {
		err = sonic.Unmarshal(data, &reply)
	} else {
		err = json.Unmarshal(data, &reply)
	}
	if err != nil {
		return nil, err
	}
	return &reply, nil
}
