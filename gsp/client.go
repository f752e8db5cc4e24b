package gsp

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/ipc"
	"github.com/devkitPro/libctru-sub001/kernel"
)

// Command ids of the GPU service
const (
	CmdTriggerCmdReqQueue            uint16 = 0x0C
	CmdRegisterInterruptRelayQueue   uint16 = 0x13
	CmdUnregisterInterruptRelayQueue uint16 = 0x14
	CmdAcquireRight                  uint16 = 0x16
	CmdReleaseRight                  uint16 = 0x17
)

// ResultFirstRegistrant is the successful result RegisterInterruptRelayQueue returns to the first
// client to register since the service started
const ResultFirstRegistrant ipc.Result = 0x2A07

// Registration is what the service hands back when a client registers its interrupt relay event
type Registration struct {
	// ThreadID is the client's index into the shared block
	ThreadID int
	// SharedMemory is the block holding the interrupt and command queues
	SharedMemory kernel.Handle
	// FirstRegistrant is set for the first client since the service started, which is expected to
	// initialize the displays
	FirstRegistrant bool
}

// Client issues GPU service requests over a session
type Client struct {
	logger  *slog.Logger
	thread  *ipc.Thread
	session kernel.Handle
}

var _ Doorbell = &Client{}

func NewClient(logger *slog.Logger, thread *ipc.Thread, session kernel.Handle) *Client {
	return &Client{
		logger:  logger,
		thread:  thread,
		session: session,
	}
}

func (c *Client) simpleCall(commandID uint16) error {
	request, err := c.thread.Begin(commandID, 0, 0)
	if err != nil {
		return err
	}

	reply, err := request.Send(c.session)
	if err != nil {
		return err
	}
	defer reply.Release()

	return reply.Err()
}

// AcquireRight asks for exclusive access to the GPU
func (c *Client) AcquireRight(flags uint8) error {
	c.logger.Debug("Client::AcquireRight", slog.Int("Flags", int(flags)))

	request, err := c.thread.Begin(CmdAcquireRight, 1, 2)
	if err != nil {
		return err
	}

	reply, err := request.Word(uint32(flags)).Handles(kernel.CurrentProcess).Send(c.session)
	if err != nil {
		return err
	}
	defer reply.Release()

	return reply.Err()
}

// ReleaseRight gives up exclusive access to the GPU
func (c *Client) ReleaseRight() error {
	c.logger.Debug("Client::ReleaseRight")
	return c.simpleCall(CmdReleaseRight)
}

// RegisterInterruptRelayQueue registers event as the one the service signals when it has pushed
// interrupts for this client
func (c *Client) RegisterInterruptRelayQueue(event kernel.Handle, flags uint32) (Registration, error) {
	c.logger.Debug("Client::RegisterInterruptRelayQueue", slog.Any("Event", event), slog.Int("Flags", int(flags)))

	request, err := c.thread.Begin(CmdRegisterInterruptRelayQueue, 1, 2)
	if err != nil {
		return Registration{}, err
	}

	reply, err := request.Word(flags).Handles(event).Send(c.session)
	if err != nil {
		return Registration{}, err
	}
	defer reply.Release()

	err = reply.Err()
	if err != nil {
		return Registration{}, err
	}

	err = reply.Expect(1, 2)
	if err != nil {
		return Registration{}, err
	}

	memory, err := reply.Handle(0)
	if err != nil {
		return Registration{}, err
	}

	return Registration{
		ThreadID:        int(reply.Word(0) & 0xFF),
		SharedMemory:    memory,
		FirstRegistrant: reply.Result() == ResultFirstRegistrant,
	}, nil
}

// UnregisterInterruptRelayQueue stops the service relaying interrupts to this client
func (c *Client) UnregisterInterruptRelayQueue() error {
	c.logger.Debug("Client::UnregisterInterruptRelayQueue")
	return c.simpleCall(CmdUnregisterInterruptRelayQueue)
}

// TriggerCmdReqQueue tells the service that the command queue went from empty to non-empty
func (c *Client) TriggerCmdReqQueue() error {
	err := c.simpleCall(CmdTriggerCmdReqQueue)
	if err != nil {
		return errors.Wrap(err, "TriggerCmdReqQueue")
	}
	return nil
}
