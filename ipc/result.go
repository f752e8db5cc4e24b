package ipc

import (
	"fmt"
)

// Result is the status word a service places right after the reply header. Negative values are
// failures. The fields are packed as description (bits 0-9), module (bits 10-17), summary
// (bits 21-26) and level (bits 27-31).
type Result int32

type Level uint32

const (
	LevelSuccess   Level = 0
	LevelInfo      Level = 1
	LevelStatus    Level = 25
	LevelTemporary Level = 26
	LevelPermanent Level = 27
	LevelUsage     Level = 28
	LevelReinit    Level = 29
	LevelReset     Level = 30
	LevelFatal     Level = 31
)

type Summary uint32

const (
	SummarySuccess         Summary = 0
	SummaryNothingHappened Summary = 1
	SummaryWouldBlock      Summary = 2
	SummaryOutOfResource   Summary = 3
	SummaryNotFound        Summary = 4
	SummaryInvalidState    Summary = 5
	SummaryNotSupported    Summary = 6
	SummaryInvalidArgument Summary = 7
	SummaryWrongArgument   Summary = 8
	SummaryCanceled        Summary = 9
	SummaryStatusChanged   Summary = 10
	SummaryInternal        Summary = 11
)

type Module uint32

const (
	ModuleCommon      Module = 0
	ModuleKernel      Module = 1
	ModuleOS          Module = 6
	ModuleGSP         Module = 10
	ModuleSRV         Module = 25
	ModuleApplication Module = 254
)

type Description uint32

const (
	DescriptionSuccess            Description = 0
	DescriptionInvalidCommand     Description = 47
	DescriptionInvalidSelection   Description = 1000
	DescriptionTooLarge           Description = 1001
	DescriptionNotAuthorized      Description = 1002
	DescriptionAlreadyDone        Description = 1003
	DescriptionInvalidSize        Description = 1004
	DescriptionInvalidEnumValue   Description = 1005
	DescriptionInvalidCombination Description = 1006
	DescriptionNoData             Description = 1007
	DescriptionBusy               Description = 1008
	DescriptionMisalignedAddress  Description = 1009
	DescriptionMisalignedSize     Description = 1010
	DescriptionOutOfMemory        Description = 1011
	DescriptionNotImplemented     Description = 1012
	DescriptionInvalidAddress     Description = 1013
	DescriptionInvalidPointer     Description = 1014
	DescriptionInvalidHandle      Description = 1015
	DescriptionNotInitialized     Description = 1016
	DescriptionAlreadyInitialized Description = 1017
	DescriptionNotFound           Description = 1018
	DescriptionCancelRequested    Description = 1019
	DescriptionAlreadyExists      Description = 1020
	DescriptionOutOfRange         Description = 1021
	DescriptionTimeout            Description = 1022
	DescriptionInvalidResultValue Description = 1023
)

// MakeResult packs a result code
func MakeResult(level Level, summary Summary, module Module, description Description) Result {
	return Result(uint32(level&0x1F)<<27 | uint32(summary&0x3F)<<21 | uint32(module&0xFF)<<10 | uint32(description&0x3FF))
}

const (
	ResultSuccess Result = 0
	// ResultInvalidCommand is returned for a command id the service does not implement
	ResultInvalidCommand = Result(-0x26FFE7D1) // 0xD900182F
)

func (r Result) IsSuccess() bool { return r >= 0 }

func (r Result) IsFailure() bool { return r < 0 }

func (r Result) Level() Level { return Level(uint32(r)>>27) & 0x1F }

func (r Result) Summary() Summary { return Summary(uint32(r)>>21) & 0x3F }

func (r Result) Module() Module { return Module(uint32(r)>>10) & 0xFF }

func (r Result) Description() Description { return Description(uint32(r)) & 0x3FF }

func (r Result) String() string {
	return fmt.Sprintf("%#08x (level=%d summary=%d module=%d description=%d)", uint32(r), r.Level(), r.Summary(), r.Module(), r.Description())
}

// Err returns nil for a successful result and a *ResultError otherwise
func (r Result) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return &ResultError{Result: r}
}

// ResultError is a service-level failure reported in a reply's status word. It is distinct from
// ErrTransport, which means the request never produced a reply.
type ResultError struct {
	Result Result
}

func (e *ResultError) Error() string {
	return "service returned " + e.Result.String()
}
