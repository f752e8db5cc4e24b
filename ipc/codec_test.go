package ipc_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/devkitPro/libctru-sub001/ipc"
	"github.com/stretchr/testify/require"
)

func TestHeader(t *testing.T) {
	header := ipc.MakeHeader(0x16, 1, 2)
	require.Equal(t, ipc.Header(0x00160042), header)
	require.Equal(t, uint16(0x16), header.CommandID())
	require.Equal(t, 1, header.NormalParams())
	require.Equal(t, 2, header.TranslateParams())
	require.Equal(t, 4, header.Words())

	header = ipc.MakeHeader(0xFFFF, 63, 63)
	require.Equal(t, uint16(0xFFFF), header.CommandID())
	require.Equal(t, 63, header.NormalParams())
	require.Equal(t, 63, header.TranslateParams())
}

func TestDescriptors(t *testing.T) {
	testCases := map[string]struct {
		word       uint32
		descriptor ipc.Descriptor
	}{
		"SharedHandles": {
			word:       ipc.DescSharedHandles(1),
			descriptor: ipc.Descriptor{Kind: ipc.DescriptorSharedHandles, Count: 1},
		},
		"MoveHandles": {
			word:       ipc.DescMoveHandles(2),
			descriptor: ipc.Descriptor{Kind: ipc.DescriptorMoveHandles, Count: 2},
		},
		"CallingProcessID": {
			word:       ipc.DescCallingProcessID(),
			descriptor: ipc.Descriptor{Kind: ipc.DescriptorCallingProcessID, Count: 1},
		},
		"StaticBuffer": {
			word:       ipc.DescStaticBuffer(0x100, 2),
			descriptor: ipc.Descriptor{Kind: ipc.DescriptorStaticBuffer, Count: 1, Size: 0x100, ID: 2},
		},
		"PXIBuffer": {
			word:       ipc.DescPXIBuffer(0x20, 1, false),
			descriptor: ipc.Descriptor{Kind: ipc.DescriptorPXIBuffer, Count: 1, Size: 0x20, ID: 1},
		},
		"PXIBufferReadOnly": {
			word:       ipc.DescPXIBuffer(0x20, 1, true),
			descriptor: ipc.Descriptor{Kind: ipc.DescriptorPXIBuffer, Count: 1, Size: 0x20, ID: 1, ReadOnly: true},
		},
		"MappedBuffer": {
			word:       ipc.DescBuffer(0x40, ipc.BufferRead),
			descriptor: ipc.Descriptor{Kind: ipc.DescriptorMappedBuffer, Count: 1, Size: 0x40, Rights: ipc.BufferRead},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			descriptor, err := ipc.ParseDescriptor(testCase.word)
			require.NoError(t, err)
			require.Equal(t, testCase.descriptor, descriptor)
		})
	}

	require.Equal(t, uint32(0x00000000), ipc.DescSharedHandles(1))
	require.Equal(t, uint32(0x04000010), ipc.DescMoveHandles(2))
	require.Equal(t, uint32(0x00400802), ipc.DescStaticBuffer(0x100, 2))
	require.Equal(t, uint32(0x00002016), ipc.DescPXIBuffer(0x20, 1, true))
	require.Equal(t, uint32(0x0000040E), ipc.DescBuffer(0x40, ipc.BufferReadWrite))
}

func TestParseTranslateParams(t *testing.T) {
	words := []uint32{
		ipc.DescSharedHandles(2), 0x10, 0x11,
		ipc.DescCallingProcessID(), 0,
		ipc.DescBuffer(0x80, ipc.BufferWrite), 0x30000000,
	}

	params, err := ipc.ParseTranslateParams(words)
	require.NoError(t, err)
	require.Len(t, params, 3)
	require.Equal(t, []uint32{0x10, 0x11}, params[0].Values)
	require.Equal(t, ipc.DescriptorCallingProcessID, params[1].Descriptor.Kind)
	require.Equal(t, []uint32{0x30000000}, params[2].Values)

	_, err = ipc.ParseTranslateParams([]uint32{ipc.DescSharedHandles(3), 0x10})
	require.ErrorIs(t, err, ipc.ErrMalformedRequest)
}

func TestResult(t *testing.T) {
	result := ipc.MakeResult(ipc.LevelPermanent, ipc.SummaryWrongArgument, ipc.ModuleOS, ipc.DescriptionInvalidCommand)
	require.Equal(t, ipc.ResultInvalidCommand, result)
	require.Equal(t, uint32(0xD900182F), uint32(result))

	require.True(t, result.IsFailure())
	require.Equal(t, ipc.LevelPermanent, result.Level())
	require.Equal(t, ipc.SummaryWrongArgument, result.Summary())
	require.Equal(t, ipc.ModuleOS, result.Module())
	require.Equal(t, ipc.DescriptionInvalidCommand, result.Description())

	var resultErr *ipc.ResultError
	require.True(t, errors.As(result.Err(), &resultErr))
	require.Equal(t, result, resultErr.Result)

	require.True(t, ipc.ResultSuccess.IsSuccess())
	require.NoError(t, ipc.ResultSuccess.Err())

	info := ipc.MakeResult(ipc.LevelSuccess, ipc.SummarySuccess, ipc.ModuleGSP, 519)
	require.Equal(t, ipc.Result(0x2A07), info)
	require.True(t, info.IsSuccess())
	require.NoError(t, info.Err())
}
