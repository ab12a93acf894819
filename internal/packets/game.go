package packets

// Client opcodes (after unmasking) that the server gives a name to. Every other
// opcode below ClientOpcodeCount is framed by its length but otherwise ignored.
const (
	EventCameraPositionType = 7
	WindowStatusType        = 8
	ClickWorldMapType       = 12
	SoundSongEndType        = 20
	EventKeyboardType       = 23
	TransmitVarVerifyIDType = 25
	EventFrameMapLoadedType = 33
	EventMouseClickType     = 37
	EventAppletFocusType    = 44
	MapBuildCompleteType    = 55
	MoveMinimapClickType    = 59
	MessagePublicType       = 60
	EventMouseMoveType      = 61
	GetExamineType          = 66
	NoTimeoutType           = 71
	OpLoc1Type              = 73
	ClientCheatType         = 76
	MoveGameClickType       = 78
	IdleTimerType           = 81
)

// Server opcodes.
const (
	PlayerInfoType    = 72
	IfOpenTopType     = 93
	RebuildNormalType = 98
)

// ClientOpcodeCount is one past the highest opcode the client can send.
const ClientOpcodeCount = 82

var clientLengths = [ClientOpcodeCount]int{
	2, VarByte, 8, 7, 8, 7, 15, 4, 6, 15,
	8, 16, 8, 16, 8, VarByte, VarByte, 8, VarByte, VarByte,
	4, 6, 7, VarByte, VarByte, 2, 7, 3, 3, VarByte,
	VarByte, 3, 3, 4, VarByte, 3, 3, 6, 4, 3,
	7, 3, VarByte, 8, 1, 3, 2, 7, 11, VarByte,
	3, 0, 12, VarByte, 8, 0, VarByte, 8, 2, 18,
	VarByte, VarByte, 3, 8, VarByte, 4, 2, 4, 3, 3,
	3, 0, 7, 7, VarByte, 11, VarByte, VarByte, 5, 7,
	7, 2,
}

// ClientLength returns the length policy of an inbound opcode: a fixed payload size,
// VarByte, VarShort, or Undefined.
func ClientLength(opcode uint8) int {
	if int(opcode) >= ClientOpcodeCount {
		return Undefined
	}
	return clientLengths[opcode]
}

var clientNames = map[uint8]string{
	EventCameraPositionType: "EVENT_CAMERA_POSITION",
	WindowStatusType:        "WINDOW_STATUS",
	ClickWorldMapType:       "CLICKWORLDMAP",
	SoundSongEndType:        "SOUND_SONGEND",
	EventKeyboardType:       "EVENT_KEYBOARD",
	TransmitVarVerifyIDType: "TRANSMITVAR_VERIFYID",
	EventFrameMapLoadedType: "EVENT_FRAME_MAP_LOADED",
	EventMouseClickType:     "EVENT_MOUSE_CLICK",
	EventAppletFocusType:    "EVENT_APPLET_FOCUS",
	MapBuildCompleteType:    "MAP_BUILD_COMPLETE",
	MoveMinimapClickType:    "MOVE_MINIMAPCLICK",
	MessagePublicType:       "MESSAGE_PUBLIC",
	EventMouseMoveType:      "EVENT_MOUSE_MOVE",
	GetExamineType:          "GET_EXAMINE",
	NoTimeoutType:           "NO_TIMEOUT",
	OpLoc1Type:              "OPLOC1",
	ClientCheatType:         "CLIENT_CHEAT",
	MoveGameClickType:       "MOVE_GAMECLICK",
	IdleTimerType:           "IDLE_TIMER",
}

// ClientName returns a printable name for an inbound opcode.
func ClientName(opcode uint8) string {
	if name, ok := clientNames[opcode]; ok {
		return name
	}
	return "UNKNOWN"
}
