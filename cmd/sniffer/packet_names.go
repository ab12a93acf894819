package main

import "github.com/dcrodman/lodestone/internal/packets"

var titlePacketNames = map[uint8]string{
	packets.TitleLoginType:       "LOGIN",
	packets.TitleJS5OpenType:     "JS5_OPEN",
	packets.TitleLogProgressType: "CREATE_LOG_PROGRESS",
	packets.TitleCheckNameType:   "CREATE_CHECK_NAME",
	packets.TitleCreateType:      "CREATE_ACCOUNT",
	packets.TitleWorldListType:   "WORLDLIST_FETCH",
}

func titleName(opcode uint8) string {
	if name, ok := titlePacketNames[opcode]; ok {
		return name
	}
	return "UNKNOWN"
}
