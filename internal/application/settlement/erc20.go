package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// 4-byte selectors for the two ERC20 methods settlement uses.
var (
	transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	approveSelector  = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]
)

// PackTransfer builds calldata for transfer(to, amount).
func PackTransfer(to common.Address, amount *big.Int) []byte {
	return packAddressUint(transferSelector, to, amount)
}

// PackApprove builds calldata for approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) []byte {
	return packAddressUint(approveSelector, spender, amount)
}

func packAddressUint(selector []byte, addr common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(addr.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
