// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package dex

// Opcode is a Dalvik opcode. Values above 0xff name the payload
// pseudo-instructions by their identifying code unit.
type Opcode uint16

const (
	OpNop                    Opcode = 0x00
	OpMove                   Opcode = 0x01
	OpMoveFrom16             Opcode = 0x02
	OpMove16                 Opcode = 0x03
	OpMoveWide               Opcode = 0x04
	OpMoveWideFrom16         Opcode = 0x05
	OpMoveWide16             Opcode = 0x06
	OpMoveObject             Opcode = 0x07
	OpMoveObjectFrom16       Opcode = 0x08
	OpMoveObject16           Opcode = 0x09
	OpMoveResult             Opcode = 0x0a
	OpMoveResultWide         Opcode = 0x0b
	OpMoveResultObject       Opcode = 0x0c
	OpMoveException          Opcode = 0x0d
	OpReturnVoid             Opcode = 0x0e
	OpReturn                 Opcode = 0x0f
	OpReturnWide             Opcode = 0x10
	OpReturnObject           Opcode = 0x11
	OpConst4                 Opcode = 0x12
	OpConst16                Opcode = 0x13
	OpConst                  Opcode = 0x14
	OpConstHigh16            Opcode = 0x15
	OpConstWide16            Opcode = 0x16
	OpConstWide32            Opcode = 0x17
	OpConstWide              Opcode = 0x18
	OpConstWideHigh16        Opcode = 0x19
	OpConstString            Opcode = 0x1a
	OpConstStringJumbo       Opcode = 0x1b
	OpConstClass             Opcode = 0x1c
	OpMonitorEnter           Opcode = 0x1d
	OpMonitorExit            Opcode = 0x1e
	OpCheckCast              Opcode = 0x1f
	OpInstanceOf             Opcode = 0x20
	OpArrayLength            Opcode = 0x21
	OpNewInstance            Opcode = 0x22
	OpNewArray               Opcode = 0x23
	OpFilledNewArray         Opcode = 0x24
	OpFilledNewArrayRange    Opcode = 0x25
	OpFillArrayData          Opcode = 0x26
	OpThrow                  Opcode = 0x27
	OpGoto                   Opcode = 0x28
	OpGoto16                 Opcode = 0x29
	OpGoto32                 Opcode = 0x2a
	OpPackedSwitch           Opcode = 0x2b
	OpSparseSwitch           Opcode = 0x2c
	OpCmplFloat              Opcode = 0x2d
	OpCmpgFloat              Opcode = 0x2e
	OpCmplDouble             Opcode = 0x2f
	OpCmpgDouble             Opcode = 0x30
	OpCmpLong                Opcode = 0x31
	OpIfEq                   Opcode = 0x32
	OpIfNe                   Opcode = 0x33
	OpIfLt                   Opcode = 0x34
	OpIfGe                   Opcode = 0x35
	OpIfGt                   Opcode = 0x36
	OpIfLe                   Opcode = 0x37
	OpIfEqz                  Opcode = 0x38
	OpIfNez                  Opcode = 0x39
	OpIfLtz                  Opcode = 0x3a
	OpIfGez                  Opcode = 0x3b
	OpIfGtz                  Opcode = 0x3c
	OpIfLez                  Opcode = 0x3d
	OpAget                   Opcode = 0x44
	OpAgetWide               Opcode = 0x45
	OpAgetObject             Opcode = 0x46
	OpAgetBoolean            Opcode = 0x47
	OpAgetByte               Opcode = 0x48
	OpAgetChar               Opcode = 0x49
	OpAgetShort              Opcode = 0x4a
	OpAput                   Opcode = 0x4b
	OpAputWide               Opcode = 0x4c
	OpAputObject             Opcode = 0x4d
	OpAputBoolean            Opcode = 0x4e
	OpAputByte               Opcode = 0x4f
	OpAputChar               Opcode = 0x50
	OpAputShort              Opcode = 0x51
	OpIget                   Opcode = 0x52
	OpIgetWide               Opcode = 0x53
	OpIgetObject             Opcode = 0x54
	OpIgetBoolean            Opcode = 0x55
	OpIgetByte               Opcode = 0x56
	OpIgetChar               Opcode = 0x57
	OpIgetShort              Opcode = 0x58
	OpIput                   Opcode = 0x59
	OpIputWide               Opcode = 0x5a
	OpIputObject             Opcode = 0x5b
	OpIputBoolean            Opcode = 0x5c
	OpIputByte               Opcode = 0x5d
	OpIputChar               Opcode = 0x5e
	OpIputShort              Opcode = 0x5f
	OpSget                   Opcode = 0x60
	OpSgetWide               Opcode = 0x61
	OpSgetObject             Opcode = 0x62
	OpSgetBoolean            Opcode = 0x63
	OpSgetByte               Opcode = 0x64
	OpSgetChar               Opcode = 0x65
	OpSgetShort              Opcode = 0x66
	OpSput                   Opcode = 0x67
	OpSputWide               Opcode = 0x68
	OpSputObject             Opcode = 0x69
	OpSputBoolean            Opcode = 0x6a
	OpSputByte               Opcode = 0x6b
	OpSputChar               Opcode = 0x6c
	OpSputShort              Opcode = 0x6d
	OpInvokeVirtual          Opcode = 0x6e
	OpInvokeSuper            Opcode = 0x6f
	OpInvokeDirect           Opcode = 0x70
	OpInvokeStatic           Opcode = 0x71
	OpInvokeInterface        Opcode = 0x72
	OpInvokeVirtualRange     Opcode = 0x74
	OpInvokeSuperRange       Opcode = 0x75
	OpInvokeDirectRange      Opcode = 0x76
	OpInvokeStaticRange      Opcode = 0x77
	OpInvokeInterfaceRange   Opcode = 0x78
	OpNegInt                 Opcode = 0x7b
	OpNotInt                 Opcode = 0x7c
	OpNegLong                Opcode = 0x7d
	OpNotLong                Opcode = 0x7e
	OpNegFloat               Opcode = 0x7f
	OpNegDouble              Opcode = 0x80
	OpIntToLong              Opcode = 0x81
	OpIntToFloat             Opcode = 0x82
	OpIntToDouble            Opcode = 0x83
	OpLongToInt              Opcode = 0x84
	OpLongToFloat            Opcode = 0x85
	OpLongToDouble           Opcode = 0x86
	OpFloatToInt             Opcode = 0x87
	OpFloatToLong            Opcode = 0x88
	OpFloatToDouble          Opcode = 0x89
	OpDoubleToInt            Opcode = 0x8a
	OpDoubleToLong           Opcode = 0x8b
	OpDoubleToFloat          Opcode = 0x8c
	OpIntToByte              Opcode = 0x8d
	OpIntToChar              Opcode = 0x8e
	OpIntToShort             Opcode = 0x8f
	OpAddInt                 Opcode = 0x90
	OpSubInt                 Opcode = 0x91
	OpMulInt                 Opcode = 0x92
	OpDivInt                 Opcode = 0x93
	OpRemInt                 Opcode = 0x94
	OpAndInt                 Opcode = 0x95
	OpOrInt                  Opcode = 0x96
	OpXorInt                 Opcode = 0x97
	OpShlInt                 Opcode = 0x98
	OpShrInt                 Opcode = 0x99
	OpUshrInt                Opcode = 0x9a
	OpAddLong                Opcode = 0x9b
	OpSubLong                Opcode = 0x9c
	OpMulLong                Opcode = 0x9d
	OpDivLong                Opcode = 0x9e
	OpRemLong                Opcode = 0x9f
	OpAndLong                Opcode = 0xa0
	OpOrLong                 Opcode = 0xa1
	OpXorLong                Opcode = 0xa2
	OpShlLong                Opcode = 0xa3
	OpShrLong                Opcode = 0xa4
	OpUshrLong               Opcode = 0xa5
	OpAddFloat               Opcode = 0xa6
	OpSubFloat               Opcode = 0xa7
	OpMulFloat               Opcode = 0xa8
	OpDivFloat               Opcode = 0xa9
	OpRemFloat               Opcode = 0xaa
	OpAddDouble              Opcode = 0xab
	OpSubDouble              Opcode = 0xac
	OpMulDouble              Opcode = 0xad
	OpDivDouble              Opcode = 0xae
	OpRemDouble              Opcode = 0xaf
	OpAddInt2addr            Opcode = 0xb0
	OpSubInt2addr            Opcode = 0xb1
	OpMulInt2addr            Opcode = 0xb2
	OpDivInt2addr            Opcode = 0xb3
	OpRemInt2addr            Opcode = 0xb4
	OpAndInt2addr            Opcode = 0xb5
	OpOrInt2addr             Opcode = 0xb6
	OpXorInt2addr            Opcode = 0xb7
	OpShlInt2addr            Opcode = 0xb8
	OpShrInt2addr            Opcode = 0xb9
	OpUshrInt2addr           Opcode = 0xba
	OpAddLong2addr           Opcode = 0xbb
	OpSubLong2addr           Opcode = 0xbc
	OpMulLong2addr           Opcode = 0xbd
	OpDivLong2addr           Opcode = 0xbe
	OpRemLong2addr           Opcode = 0xbf
	OpAndLong2addr           Opcode = 0xc0
	OpOrLong2addr            Opcode = 0xc1
	OpXorLong2addr           Opcode = 0xc2
	OpShlLong2addr           Opcode = 0xc3
	OpShrLong2addr           Opcode = 0xc4
	OpUshrLong2addr          Opcode = 0xc5
	OpAddFloat2addr          Opcode = 0xc6
	OpSubFloat2addr          Opcode = 0xc7
	OpMulFloat2addr          Opcode = 0xc8
	OpDivFloat2addr          Opcode = 0xc9
	OpRemFloat2addr          Opcode = 0xca
	OpAddDouble2addr         Opcode = 0xcb
	OpSubDouble2addr         Opcode = 0xcc
	OpMulDouble2addr         Opcode = 0xcd
	OpDivDouble2addr         Opcode = 0xce
	OpRemDouble2addr         Opcode = 0xcf
	OpAddIntLit16            Opcode = 0xd0
	OpRsubInt                Opcode = 0xd1
	OpMulIntLit16            Opcode = 0xd2
	OpDivIntLit16            Opcode = 0xd3
	OpRemIntLit16            Opcode = 0xd4
	OpAndIntLit16            Opcode = 0xd5
	OpOrIntLit16             Opcode = 0xd6
	OpXorIntLit16            Opcode = 0xd7
	OpAddIntLit8             Opcode = 0xd8
	OpRsubIntLit8            Opcode = 0xd9
	OpMulIntLit8             Opcode = 0xda
	OpDivIntLit8             Opcode = 0xdb
	OpRemIntLit8             Opcode = 0xdc
	OpAndIntLit8             Opcode = 0xdd
	OpOrIntLit8              Opcode = 0xde
	OpXorIntLit8             Opcode = 0xdf
	OpShlIntLit8             Opcode = 0xe0
	OpShrIntLit8             Opcode = 0xe1
	OpUshrIntLit8            Opcode = 0xe2
	OpInvokePolymorphic      Opcode = 0xfa
	OpInvokePolymorphicRange Opcode = 0xfb
	OpInvokeCustom           Opcode = 0xfc
	OpInvokeCustomRange      Opcode = 0xfd
	OpConstMethodHandle      Opcode = 0xfe
	OpConstMethodType        Opcode = 0xff

	OpPackedSwitchPayload  Opcode = 0x0100
	OpSparseSwitchPayload  Opcode = 0x0200
	OpFillArrayDataPayload Opcode = 0x0300
)

// Format is a Dalvik instruction format such as 22c: the number of code
// units, the number of registers and the kind of the extra operand.
type Format uint8

const (
	formatInvalid Format = iota
	Format10x
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format22x
	Format21t
	Format21s
	Format21h
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format30t
	Format32x
	Format31i
	Format31t
	Format31c
	Format35c
	Format3rc
	Format45cc
	Format4rcc
	Format51l
	FormatPayload
)

var formatUnits = [...]int{
	Format10x: 1, Format12x: 1, Format11n: 1, Format11x: 1, Format10t: 1,
	Format20t: 2, Format22x: 2, Format21t: 2, Format21s: 2, Format21h: 2,
	Format21c: 2, Format23x: 2, Format22b: 2, Format22t: 2, Format22s: 2,
	Format22c: 2,
	Format30t: 3, Format32x: 3, Format31i: 3, Format31t: 3, Format31c: 3,
	Format35c: 3, Format3rc: 3,
	Format45cc: 4, Format4rcc: 4,
	Format51l: 5,
}

var formatNames = [...]string{
	Format10x: "10x", Format12x: "12x", Format11n: "11n", Format11x: "11x", Format10t: "10t",
	Format20t: "20t", Format22x: "22x", Format21t: "21t", Format21s: "21s", Format21h: "21h",
	Format21c: "21c", Format23x: "23x", Format22b: "22b", Format22t: "22t", Format22s: "22s",
	Format22c: "22c", Format30t: "30t", Format32x: "32x", Format31i: "31i", Format31t: "31t",
	Format31c: "31c", Format35c: "35c", Format3rc: "3rc", Format45cc: "45cc", Format4rcc: "4rcc",
	Format51l: "51l", FormatPayload: "payload",
}

func (f Format) String() string {
	if int(f) < len(formatNames) && formatNames[f] != "" {
		return formatNames[f]
	}
	return "invalid"
}

// Units is the fixed length of the format in 16-bit code units. Payloads
// have no fixed length and report 0.
func (f Format) Units() int {
	if int(f) < len(formatUnits) {
		return formatUnits[f]
	}
	return 0
}

// IndexKind names the table an instruction's index operand points into.
type IndexKind uint8

const (
	IndexNone IndexKind = iota
	IndexString
	IndexType
	IndexField
	IndexMethod
	IndexProto
	IndexCallSite
	IndexMethodHandle
)

type opInfo struct {
	name   string
	format Format
	index  IndexKind
}

var opTable [256]opInfo

func init() {
	for op, info := range map[Opcode]opInfo{
		OpNop:                    {"nop", Format10x, IndexNone},
		OpMove:                   {"move", Format12x, IndexNone},
		OpMoveFrom16:             {"move/from16", Format22x, IndexNone},
		OpMove16:                 {"move/16", Format32x, IndexNone},
		OpMoveWide:               {"move-wide", Format12x, IndexNone},
		OpMoveWideFrom16:         {"move-wide/from16", Format22x, IndexNone},
		OpMoveWide16:             {"move-wide/16", Format32x, IndexNone},
		OpMoveObject:             {"move-object", Format12x, IndexNone},
		OpMoveObjectFrom16:       {"move-object/from16", Format22x, IndexNone},
		OpMoveObject16:           {"move-object/16", Format32x, IndexNone},
		OpMoveResult:             {"move-result", Format11x, IndexNone},
		OpMoveResultWide:         {"move-result-wide", Format11x, IndexNone},
		OpMoveResultObject:       {"move-result-object", Format11x, IndexNone},
		OpMoveException:          {"move-exception", Format11x, IndexNone},
		OpReturnVoid:             {"return-void", Format10x, IndexNone},
		OpReturn:                 {"return", Format11x, IndexNone},
		OpReturnWide:             {"return-wide", Format11x, IndexNone},
		OpReturnObject:           {"return-object", Format11x, IndexNone},
		OpConst4:                 {"const/4", Format11n, IndexNone},
		OpConst16:                {"const/16", Format21s, IndexNone},
		OpConst:                  {"const", Format31i, IndexNone},
		OpConstHigh16:            {"const/high16", Format21h, IndexNone},
		OpConstWide16:            {"const-wide/16", Format21s, IndexNone},
		OpConstWide32:            {"const-wide/32", Format31i, IndexNone},
		OpConstWide:              {"const-wide", Format51l, IndexNone},
		OpConstWideHigh16:        {"const-wide/high16", Format21h, IndexNone},
		OpConstString:            {"const-string", Format21c, IndexString},
		OpConstStringJumbo:       {"const-string/jumbo", Format31c, IndexString},
		OpConstClass:             {"const-class", Format21c, IndexType},
		OpMonitorEnter:           {"monitor-enter", Format11x, IndexNone},
		OpMonitorExit:            {"monitor-exit", Format11x, IndexNone},
		OpCheckCast:              {"check-cast", Format21c, IndexType},
		OpInstanceOf:             {"instance-of", Format22c, IndexType},
		OpArrayLength:            {"array-length", Format12x, IndexNone},
		OpNewInstance:            {"new-instance", Format21c, IndexType},
		OpNewArray:               {"new-array", Format22c, IndexType},
		OpFilledNewArray:         {"filled-new-array", Format35c, IndexType},
		OpFilledNewArrayRange:    {"filled-new-array/range", Format3rc, IndexType},
		OpFillArrayData:          {"fill-array-data", Format31t, IndexNone},
		OpThrow:                  {"throw", Format11x, IndexNone},
		OpGoto:                   {"goto", Format10t, IndexNone},
		OpGoto16:                 {"goto/16", Format20t, IndexNone},
		OpGoto32:                 {"goto/32", Format30t, IndexNone},
		OpPackedSwitch:           {"packed-switch", Format31t, IndexNone},
		OpSparseSwitch:           {"sparse-switch", Format31t, IndexNone},
		OpCmplFloat:              {"cmpl-float", Format23x, IndexNone},
		OpCmpgFloat:              {"cmpg-float", Format23x, IndexNone},
		OpCmplDouble:             {"cmpl-double", Format23x, IndexNone},
		OpCmpgDouble:             {"cmpg-double", Format23x, IndexNone},
		OpCmpLong:                {"cmp-long", Format23x, IndexNone},
		OpIfEq:                   {"if-eq", Format22t, IndexNone},
		OpIfNe:                   {"if-ne", Format22t, IndexNone},
		OpIfLt:                   {"if-lt", Format22t, IndexNone},
		OpIfGe:                   {"if-ge", Format22t, IndexNone},
		OpIfGt:                   {"if-gt", Format22t, IndexNone},
		OpIfLe:                   {"if-le", Format22t, IndexNone},
		OpIfEqz:                  {"if-eqz", Format21t, IndexNone},
		OpIfNez:                  {"if-nez", Format21t, IndexNone},
		OpIfLtz:                  {"if-ltz", Format21t, IndexNone},
		OpIfGez:                  {"if-gez", Format21t, IndexNone},
		OpIfGtz:                  {"if-gtz", Format21t, IndexNone},
		OpIfLez:                  {"if-lez", Format21t, IndexNone},
		OpAget:                   {"aget", Format23x, IndexNone},
		OpAgetWide:               {"aget-wide", Format23x, IndexNone},
		OpAgetObject:             {"aget-object", Format23x, IndexNone},
		OpAgetBoolean:            {"aget-boolean", Format23x, IndexNone},
		OpAgetByte:               {"aget-byte", Format23x, IndexNone},
		OpAgetChar:               {"aget-char", Format23x, IndexNone},
		OpAgetShort:              {"aget-short", Format23x, IndexNone},
		OpAput:                   {"aput", Format23x, IndexNone},
		OpAputWide:               {"aput-wide", Format23x, IndexNone},
		OpAputObject:             {"aput-object", Format23x, IndexNone},
		OpAputBoolean:            {"aput-boolean", Format23x, IndexNone},
		OpAputByte:               {"aput-byte", Format23x, IndexNone},
		OpAputChar:               {"aput-char", Format23x, IndexNone},
		OpAputShort:              {"aput-short", Format23x, IndexNone},
		OpIget:                   {"iget", Format22c, IndexField},
		OpIgetWide:               {"iget-wide", Format22c, IndexField},
		OpIgetObject:             {"iget-object", Format22c, IndexField},
		OpIgetBoolean:            {"iget-boolean", Format22c, IndexField},
		OpIgetByte:               {"iget-byte", Format22c, IndexField},
		OpIgetChar:               {"iget-char", Format22c, IndexField},
		OpIgetShort:              {"iget-short", Format22c, IndexField},
		OpIput:                   {"iput", Format22c, IndexField},
		OpIputWide:               {"iput-wide", Format22c, IndexField},
		OpIputObject:             {"iput-object", Format22c, IndexField},
		OpIputBoolean:            {"iput-boolean", Format22c, IndexField},
		OpIputByte:               {"iput-byte", Format22c, IndexField},
		OpIputChar:               {"iput-char", Format22c, IndexField},
		OpIputShort:              {"iput-short", Format22c, IndexField},
		OpSget:                   {"sget", Format21c, IndexField},
		OpSgetWide:               {"sget-wide", Format21c, IndexField},
		OpSgetObject:             {"sget-object", Format21c, IndexField},
		OpSgetBoolean:            {"sget-boolean", Format21c, IndexField},
		OpSgetByte:               {"sget-byte", Format21c, IndexField},
		OpSgetChar:               {"sget-char", Format21c, IndexField},
		OpSgetShort:              {"sget-short", Format21c, IndexField},
		OpSput:                   {"sput", Format21c, IndexField},
		OpSputWide:               {"sput-wide", Format21c, IndexField},
		OpSputObject:             {"sput-object", Format21c, IndexField},
		OpSputBoolean:            {"sput-boolean", Format21c, IndexField},
		OpSputByte:               {"sput-byte", Format21c, IndexField},
		OpSputChar:               {"sput-char", Format21c, IndexField},
		OpSputShort:              {"sput-short", Format21c, IndexField},
		OpInvokeVirtual:          {"invoke-virtual", Format35c, IndexMethod},
		OpInvokeSuper:            {"invoke-super", Format35c, IndexMethod},
		OpInvokeDirect:           {"invoke-direct", Format35c, IndexMethod},
		OpInvokeStatic:           {"invoke-static", Format35c, IndexMethod},
		OpInvokeInterface:        {"invoke-interface", Format35c, IndexMethod},
		OpInvokeVirtualRange:     {"invoke-virtual/range", Format3rc, IndexMethod},
		OpInvokeSuperRange:       {"invoke-super/range", Format3rc, IndexMethod},
		OpInvokeDirectRange:      {"invoke-direct/range", Format3rc, IndexMethod},
		OpInvokeStaticRange:      {"invoke-static/range", Format3rc, IndexMethod},
		OpInvokeInterfaceRange:   {"invoke-interface/range", Format3rc, IndexMethod},
		OpNegInt:                 {"neg-int", Format12x, IndexNone},
		OpNotInt:                 {"not-int", Format12x, IndexNone},
		OpNegLong:                {"neg-long", Format12x, IndexNone},
		OpNotLong:                {"not-long", Format12x, IndexNone},
		OpNegFloat:               {"neg-float", Format12x, IndexNone},
		OpNegDouble:              {"neg-double", Format12x, IndexNone},
		OpIntToLong:              {"int-to-long", Format12x, IndexNone},
		OpIntToFloat:             {"int-to-float", Format12x, IndexNone},
		OpIntToDouble:            {"int-to-double", Format12x, IndexNone},
		OpLongToInt:              {"long-to-int", Format12x, IndexNone},
		OpLongToFloat:            {"long-to-float", Format12x, IndexNone},
		OpLongToDouble:           {"long-to-double", Format12x, IndexNone},
		OpFloatToInt:             {"float-to-int", Format12x, IndexNone},
		OpFloatToLong:            {"float-to-long", Format12x, IndexNone},
		OpFloatToDouble:          {"float-to-double", Format12x, IndexNone},
		OpDoubleToInt:            {"double-to-int", Format12x, IndexNone},
		OpDoubleToLong:           {"double-to-long", Format12x, IndexNone},
		OpDoubleToFloat:          {"double-to-float", Format12x, IndexNone},
		OpIntToByte:              {"int-to-byte", Format12x, IndexNone},
		OpIntToChar:              {"int-to-char", Format12x, IndexNone},
		OpIntToShort:             {"int-to-short", Format12x, IndexNone},
		OpAddInt:                 {"add-int", Format23x, IndexNone},
		OpSubInt:                 {"sub-int", Format23x, IndexNone},
		OpMulInt:                 {"mul-int", Format23x, IndexNone},
		OpDivInt:                 {"div-int", Format23x, IndexNone},
		OpRemInt:                 {"rem-int", Format23x, IndexNone},
		OpAndInt:                 {"and-int", Format23x, IndexNone},
		OpOrInt:                  {"or-int", Format23x, IndexNone},
		OpXorInt:                 {"xor-int", Format23x, IndexNone},
		OpShlInt:                 {"shl-int", Format23x, IndexNone},
		OpShrInt:                 {"shr-int", Format23x, IndexNone},
		OpUshrInt:                {"ushr-int", Format23x, IndexNone},
		OpAddLong:                {"add-long", Format23x, IndexNone},
		OpSubLong:                {"sub-long", Format23x, IndexNone},
		OpMulLong:                {"mul-long", Format23x, IndexNone},
		OpDivLong:                {"div-long", Format23x, IndexNone},
		OpRemLong:                {"rem-long", Format23x, IndexNone},
		OpAndLong:                {"and-long", Format23x, IndexNone},
		OpOrLong:                 {"or-long", Format23x, IndexNone},
		OpXorLong:                {"xor-long", Format23x, IndexNone},
		OpShlLong:                {"shl-long", Format23x, IndexNone},
		OpShrLong:                {"shr-long", Format23x, IndexNone},
		OpUshrLong:               {"ushr-long", Format23x, IndexNone},
		OpAddFloat:               {"add-float", Format23x, IndexNone},
		OpSubFloat:               {"sub-float", Format23x, IndexNone},
		OpMulFloat:               {"mul-float", Format23x, IndexNone},
		OpDivFloat:               {"div-float", Format23x, IndexNone},
		OpRemFloat:               {"rem-float", Format23x, IndexNone},
		OpAddDouble:              {"add-double", Format23x, IndexNone},
		OpSubDouble:              {"sub-double", Format23x, IndexNone},
		OpMulDouble:              {"mul-double", Format23x, IndexNone},
		OpDivDouble:              {"div-double", Format23x, IndexNone},
		OpRemDouble:              {"rem-double", Format23x, IndexNone},
		OpAddInt2addr:            {"add-int/2addr", Format12x, IndexNone},
		OpSubInt2addr:            {"sub-int/2addr", Format12x, IndexNone},
		OpMulInt2addr:            {"mul-int/2addr", Format12x, IndexNone},
		OpDivInt2addr:            {"div-int/2addr", Format12x, IndexNone},
		OpRemInt2addr:            {"rem-int/2addr", Format12x, IndexNone},
		OpAndInt2addr:            {"and-int/2addr", Format12x, IndexNone},
		OpOrInt2addr:             {"or-int/2addr", Format12x, IndexNone},
		OpXorInt2addr:            {"xor-int/2addr", Format12x, IndexNone},
		OpShlInt2addr:            {"shl-int/2addr", Format12x, IndexNone},
		OpShrInt2addr:            {"shr-int/2addr", Format12x, IndexNone},
		OpUshrInt2addr:           {"ushr-int/2addr", Format12x, IndexNone},
		OpAddLong2addr:           {"add-long/2addr", Format12x, IndexNone},
		OpSubLong2addr:           {"sub-long/2addr", Format12x, IndexNone},
		OpMulLong2addr:           {"mul-long/2addr", Format12x, IndexNone},
		OpDivLong2addr:           {"div-long/2addr", Format12x, IndexNone},
		OpRemLong2addr:           {"rem-long/2addr", Format12x, IndexNone},
		OpAndLong2addr:           {"and-long/2addr", Format12x, IndexNone},
		OpOrLong2addr:            {"or-long/2addr", Format12x, IndexNone},
		OpXorLong2addr:           {"xor-long/2addr", Format12x, IndexNone},
		OpShlLong2addr:           {"shl-long/2addr", Format12x, IndexNone},
		OpShrLong2addr:           {"shr-long/2addr", Format12x, IndexNone},
		OpUshrLong2addr:          {"ushr-long/2addr", Format12x, IndexNone},
		OpAddFloat2addr:          {"add-float/2addr", Format12x, IndexNone},
		OpSubFloat2addr:          {"sub-float/2addr", Format12x, IndexNone},
		OpMulFloat2addr:          {"mul-float/2addr", Format12x, IndexNone},
		OpDivFloat2addr:          {"div-float/2addr", Format12x, IndexNone},
		OpRemFloat2addr:          {"rem-float/2addr", Format12x, IndexNone},
		OpAddDouble2addr:         {"add-double/2addr", Format12x, IndexNone},
		OpSubDouble2addr:         {"sub-double/2addr", Format12x, IndexNone},
		OpMulDouble2addr:         {"mul-double/2addr", Format12x, IndexNone},
		OpDivDouble2addr:         {"div-double/2addr", Format12x, IndexNone},
		OpRemDouble2addr:         {"rem-double/2addr", Format12x, IndexNone},
		OpAddIntLit16:            {"add-int/lit16", Format22s, IndexNone},
		OpRsubInt:                {"rsub-int", Format22s, IndexNone},
		OpMulIntLit16:            {"mul-int/lit16", Format22s, IndexNone},
		OpDivIntLit16:            {"div-int/lit16", Format22s, IndexNone},
		OpRemIntLit16:            {"rem-int/lit16", Format22s, IndexNone},
		OpAndIntLit16:            {"and-int/lit16", Format22s, IndexNone},
		OpOrIntLit16:             {"or-int/lit16", Format22s, IndexNone},
		OpXorIntLit16:            {"xor-int/lit16", Format22s, IndexNone},
		OpAddIntLit8:             {"add-int/lit8", Format22b, IndexNone},
		OpRsubIntLit8:            {"rsub-int/lit8", Format22b, IndexNone},
		OpMulIntLit8:             {"mul-int/lit8", Format22b, IndexNone},
		OpDivIntLit8:             {"div-int/lit8", Format22b, IndexNone},
		OpRemIntLit8:             {"rem-int/lit8", Format22b, IndexNone},
		OpAndIntLit8:             {"and-int/lit8", Format22b, IndexNone},
		OpOrIntLit8:              {"or-int/lit8", Format22b, IndexNone},
		OpXorIntLit8:             {"xor-int/lit8", Format22b, IndexNone},
		OpShlIntLit8:             {"shl-int/lit8", Format22b, IndexNone},
		OpShrIntLit8:             {"shr-int/lit8", Format22b, IndexNone},
		OpUshrIntLit8:            {"ushr-int/lit8", Format22b, IndexNone},
		OpInvokePolymorphic:      {"invoke-polymorphic", Format45cc, IndexMethod},
		OpInvokePolymorphicRange: {"invoke-polymorphic/range", Format4rcc, IndexMethod},
		OpInvokeCustom:           {"invoke-custom", Format35c, IndexCallSite},
		OpInvokeCustomRange:      {"invoke-custom/range", Format3rc, IndexCallSite},
		OpConstMethodHandle:      {"const-method-handle", Format21c, IndexMethodHandle},
		OpConstMethodType:        {"const-method-type", Format21c, IndexProto},
	} {
		opTable[op] = info
	}
}

func (op Opcode) String() string {
	switch op {
	case OpPackedSwitchPayload:
		return "packed-switch-payload"
	case OpSparseSwitchPayload:
		return "sparse-switch-payload"
	case OpFillArrayDataPayload:
		return "fill-array-data-payload"
	}
	if op.Valid() {
		return opTable[op].name
	}
	return "unknown"
}

// Valid reports whether op is a defined opcode or payload.
func (op Opcode) Valid() bool {
	if op.IsPayload() {
		return true
	}
	return op <= 0xff && opTable[op].format != formatInvalid
}

// IsPayload reports whether op is a payload pseudo-instruction.
func (op Opcode) IsPayload() bool {
	return op == OpPackedSwitchPayload || op == OpSparseSwitchPayload || op == OpFillArrayDataPayload
}

// Format returns the encoding format of op.
func (op Opcode) Format() Format {
	if op.IsPayload() {
		return FormatPayload
	}
	if op > 0xff {
		return formatInvalid
	}
	return opTable[op].format
}

// Index returns the kind of index operand op carries.
func (op Opcode) Index() IndexKind {
	if op > 0xff {
		return IndexNone
	}
	return opTable[op].index
}

// Supported reports whether instructions of op can be decoded. Call sites
// and method handles are not modelled.
func (op Opcode) Supported() bool {
	k := op.Index()
	return op.Valid() && k != IndexCallSite && k != IndexMethodHandle
}

// IsBranch reports whether op carries a single relative jump to code.
func (op Opcode) IsBranch() bool {
	switch op.Format() {
	case Format10t, Format20t, Format30t, Format21t, Format22t:
		return true
	}
	return false
}

// RefersPayload reports whether op points at a payload.
func (op Opcode) RefersPayload() bool {
	return op == OpPackedSwitch || op == OpSparseSwitch || op == OpFillArrayData
}

// PayloadFor returns the payload opcode op refers to.
func (op Opcode) PayloadFor() Opcode {
	switch op {
	case OpPackedSwitch:
		return OpPackedSwitchPayload
	case OpSparseSwitch:
		return OpSparseSwitchPayload
	case OpFillArrayData:
		return OpFillArrayDataPayload
	}
	return 0
}

// IsInvoke reports whether op calls a method.
func (op Opcode) IsInvoke() bool {
	return op.Index() == IndexMethod
}
