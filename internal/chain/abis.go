package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const curveABIJSON = `[
	{"type":"event","name":"CurveCreate","anonymous":false,"inputs":[
		{"name":"creator","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"pool","type":"address","indexed":true},
		{"name":"name","type":"string","indexed":false},
		{"name":"symbol","type":"string","indexed":false},
		{"name":"tokenURI","type":"string","indexed":false},
		{"name":"virtualNative","type":"uint256","indexed":false},
		{"name":"virtualToken","type":"uint256","indexed":false},
		{"name":"targetTokenAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"CurveBuy","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"amountIn","type":"uint256","indexed":false},
		{"name":"amountOut","type":"uint256","indexed":false}]},
	{"type":"event","name":"CurveSell","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"amountIn","type":"uint256","indexed":false},
		{"name":"amountOut","type":"uint256","indexed":false}]},
	{"type":"event","name":"CurveGraduate","anonymous":false,"inputs":[
		{"name":"token","type":"address","indexed":true},
		{"name":"pool","type":"address","indexed":true}]},
	{"type":"event","name":"CurveTokenLocked","anonymous":false,"inputs":[
		{"name":"token","type":"address","indexed":true}]},
	{"type":"function","name":"isGraduated","stateMutability":"view","inputs":[
		{"name":"token","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isLocked","stateMutability":"view","inputs":[
		{"name":"token","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

const lensABIJSON = `[
	{"type":"function","name":"getAmountOut","stateMutability":"view","inputs":[
		{"name":"token","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"isBuy","type":"bool"}],
	"outputs":[
		{"name":"router","type":"address"},
		{"name":"amountOut","type":"uint256"}]}
]`

const routerABIJSON = `[
	{"type":"function","name":"buy","stateMutability":"payable","inputs":[
		{"name":"params","type":"tuple","components":[
			{"name":"amountOutMin","type":"uint256"},
			{"name":"token","type":"address"},
			{"name":"to","type":"address"},
			{"name":"deadline","type":"uint256"}]}],
	"outputs":[]},
	{"type":"function","name":"sell","stateMutability":"nonpayable","inputs":[
		{"name":"params","type":"tuple","components":[
			{"name":"amountIn","type":"uint256"},
			{"name":"amountOutMin","type":"uint256"},
			{"name":"token","type":"address"},
			{"name":"to","type":"address"},
			{"name":"deadline","type":"uint256"}]}],
	"outputs":[]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	curveABI  = mustParseABI(curveABIJSON)
	lensABI   = mustParseABI(lensABIJSON)
	routerABI = mustParseABI(routerABIJSON)
	erc20ABI  = mustParseABI(erc20ABIJSON)

	// Event signatures used to route scanned logs.
	EventCurveCreate   = curveABI.Events["CurveCreate"].ID
	EventCurveBuy      = curveABI.Events["CurveBuy"].ID
	EventCurveSell     = curveABI.Events["CurveSell"].ID
	EventCurveGraduate = curveABI.Events["CurveGraduate"].ID
	EventCurveLocked   = curveABI.Events["CurveTokenLocked"].ID
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("chain: bad embedded ABI: " + err.Error())
	}
	return parsed
}

// CurveEventTopics lists every curve event signature the scanner cares about.
func CurveEventTopics() []common.Hash {
	return []common.Hash{
		EventCurveCreate,
		EventCurveBuy,
		EventCurveSell,
		EventCurveGraduate,
		EventCurveLocked,
	}
}
