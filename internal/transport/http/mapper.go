package http

import (
	"fmt"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/proto"
)

func inboundToCommand(inbound *proto.Inbound) (*core.Command, error) {
	switch inbound.Type {
	case proto.InboundTypeMessage:
		if inbound.Content == "" {
			return nil, fmt.Errorf("%w: empty content", core.ErrMalformedFrame)
		}
		return &core.Command{
			Kind:    core.CommandSendMessage,
			Content: inbound.Content,
		}, nil
	case proto.InboundTypeRead:
		id, err := inbound.ReadMessageID()
		if err != nil {
			return nil, err
		}
		return &core.Command{
			Kind:      core.CommandMarkRead,
			MessageID: id,
		}, nil
	case proto.InboundTypeHeartbeat:
		return &core.Command{Kind: core.CommandHeartbeat}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", core.ErrMalformedFrame, inbound.Type)
	}
}
