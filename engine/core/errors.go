package core

import (
	"errors"
)

var (
	ErrInvalidHandle          = errors.New("invalid render handle")
	ErrStaleOneFrameHandle    = errors.New("one-frame descriptor set handle used outside its frame")
	ErrDescriptorSetCapacity  = errors.New("descriptor set capacity exhausted, reserve more in ResetAndReserve")
	ErrInvalidSetIndex        = errors.New("descriptor set index not used by pipeline layout")
	ErrBindingLayoutMismatch  = errors.New("binding resources do not match descriptor set layout")
	ErrTooManyBindings        = errors.New("descriptor set exceeds max binding count")
	ErrNodeTypeUnknown        = errors.New("render node type not registered")
	ErrInvalidCommandList     = errors.New("render command list recorded invalid commands")
	ErrDeviceCall             = errors.New("native device call failed")
	ErrEventSystemUninitiated = errors.New("event system not initialized")
)
