package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"poolbase/native/pool"
	"poolbase/observability"
)

const (
	codePoolInvalidParams = -32021
	codePoolForbidden     = -32022
	codePoolConflict      = -32023
	codePoolInsufficient  = -32024
	codePoolInternal      = -32025
)

type depositParams struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

type withdrawParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type addressParams struct {
	From string `json:"from"`
}

type manyParams struct {
	Addresses []string `json:"addresses"`
}

type settingsParams struct {
	Caller          string   `json:"caller"`
	MinContribution string   `json:"minContribution"`
	MaxContribution string   `json:"maxContribution"`
	MaxPoolBalance  string   `json:"maxPoolBalance"`
	Targets         []string `json:"targets,omitempty"`
}

type whitelistParams struct {
	Caller string   `json:"caller"`
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

type callerParams struct {
	Caller string `json:"caller"`
}

type tokenDropsParams struct {
	Caller string `json:"caller"`
	Drops  uint8  `json:"drops"`
}

type payToPresaleParams struct {
	Caller         string `json:"caller"`
	Destination    string `json:"destination"`
	MinPoolBalance string `json:"minPoolBalance,omitempty"`
	Value          string `json:"value,omitempty"`
	DataHex        string `json:"data,omitempty"`
}

type expectRefundParams struct {
	Caller string `json:"caller"`
	Sender string `json:"sender"`
}

type refundParams struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

type confirmTokensParams struct {
	Caller               string `json:"caller"`
	Token                string `json:"token"`
	RefundRemainingEther bool   `json:"refundRemainingEther"`
}

type tokenFallbackParams struct {
	Token string `json:"token"`
	From  string `json:"from"`
	Value string `json:"value"`
}

type transferTokensParams struct {
	Caller     string   `json:"caller"`
	Token      string   `json:"token"`
	Recipients []string `json:"recipients,omitempty"`
}

type airdropEtherParams struct {
	Caller          string `json:"caller"`
	Value           string `json:"value"`
	GasPrice        string `json:"gasPrice"`
	GasFeeRecipient string `json:"gasFeeRecipient,omitempty"`
}

type airdropTokensParams struct {
	Caller          string `json:"caller"`
	Token           string `json:"token"`
	Value           string `json:"value,omitempty"`
	GasPrice        string `json:"gasPrice"`
	GasFeeRecipient string `json:"gasFeeRecipient,omitempty"`
}

type discountFeesParams struct {
	Caller              string `json:"caller"`
	CreatorFeesPerEther string `json:"creatorFeesPerEther"`
	TeamFeesPerEther    string `json:"teamFeesPerEther"`
}

type transferResultJSON struct {
	Participant string `json:"participant"`
	Tokens      string `json:"tokens"`
	Ether       string `json:"ether"`
	Error       string `json:"error,omitempty"`
}

type balanceEntry struct {
	Address      string `json:"address"`
	Contribution string `json:"contribution"`
	Remaining    string `json:"remaining"`
	Whitelisted  bool   `json:"whitelisted"`
	Exists       bool   `json:"exists"`
}

type statusResult struct {
	Pool                    string `json:"pool"`
	Status                  string `json:"status"`
	PoolContributionBalance string `json:"poolContributionBalance"`
	TotalContributors       int    `json:"totalContributors"`
	HeldBalance             string `json:"heldBalance"`
}

func decodeParams(req *RPCRequest, target interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("parameter object required")
	}
	return json.Unmarshal(req.Params[0], target)
}

func parseAddr(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, fmt.Errorf("address required")
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(value), nil
}

func parseOptionalAddr(value string) (common.Address, error) {
	if strings.TrimSpace(value) == "" {
		return common.Address{}, nil
	}
	return parseAddr(value)
}

func parseAddrs(values []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, value := range values {
		addr, err := parseAddr(value)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func parseAmount(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative wei amount %q", value)
	}
	return amount, nil
}

func (s *Server) writeInvalidParams(w http.ResponseWriter, id interface{}, err error) int {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid params", err.Error())
	return http.StatusBadRequest
}

// writePoolError maps ledger errors onto stable JSON-RPC error codes.
func (s *Server) writePoolError(w http.ResponseWriter, id interface{}, err error) int {
	switch {
	case errors.Is(err, pool.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codePoolForbidden, err.Error(), nil)
		return http.StatusForbidden
	case errors.Is(err, pool.ErrLimitExceeded),
		errors.Is(err, pool.ErrWithdrawalBelowFloor),
		errors.Is(err, pool.ErrInvalidLimits):
		writeError(w, http.StatusBadRequest, id, codePoolInvalidParams, err.Error(), nil)
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, id, codePoolInsufficient, err.Error(), nil)
		return http.StatusConflict
	case errors.Is(err, pool.ErrWrongState),
		errors.Is(err, pool.ErrNoValueAllowed),
		errors.Is(err, pool.ErrAlreadyConfirmed),
		errors.Is(err, pool.ErrEmptyTokenBalance),
		errors.Is(err, pool.ErrUnexpectedRefundSender),
		errors.Is(err, pool.ErrNoFeesDue):
		writeError(w, http.StatusConflict, id, codePoolConflict, err.Error(), nil)
		return http.StatusConflict
	default:
		writeError(w, http.StatusInternalServerError, id, codePoolInternal, err.Error(), nil)
		return http.StatusInternalServerError
	}
}

// finishMutation persists the post-mutation snapshot, refreshes the
// gauges, and writes the result. Persistence failures are fatal to the
// response: the mutation stands in memory but the caller must know the
// ledger was not durably recorded.
func (s *Server) finishMutation(w http.ResponseWriter, req *RPCRequest, op string, result interface{}, err error) int {
	observability.PoolMetrics().RecordOperation(op, err)
	if err != nil {
		s.logger.Warn("pool operation rejected", "op", op, "err", err)
		return s.writePoolError(w, req.ID, err)
	}
	if s.store != nil {
		if err := s.store.Save(s.poolID, s.engine.Snapshot()); err != nil {
			s.logger.Error("snapshot persistence failed", "op", op, "err", err)
			writeError(w, http.StatusInternalServerError, req.ID, codePoolInternal, "snapshot persistence failed", err.Error())
			return http.StatusInternalServerError
		}
	}
	observability.PoolMetrics().SetLedger(
		s.poolID.Hex(),
		uint8(s.engine.Status()),
		s.engine.PoolContributionBalance(),
		s.engine.HeldBalance(),
		s.engine.TotalContributors(),
	)
	writeResult(w, req.ID, result)
	return http.StatusOK
}

func weiString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func transferResults(results []pool.TransferResult) []transferResultJSON {
	out := make([]transferResultJSON, 0, len(results))
	for _, res := range results {
		entry := transferResultJSON{
			Participant: res.Participant.Hex(),
			Tokens:      weiString(res.Tokens),
			Ether:       weiString(res.Ether),
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		out = append(out, entry)
	}
	return out
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) int {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	from, err := parseAddr(params.From)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.Deposit(from, value)
	return s.finishMutation(w, req, "deposit", map[string]bool{"accepted": err == nil}, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) int {
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	from, err := parseAddr(params.From)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.Withdraw(from, amount)
	return s.finishMutation(w, req, "withdraw", map[string]string{"withdrawn": weiString(amount)}, err)
}

func (s *Server) handleWithdrawAll(w http.ResponseWriter, req *RPCRequest) int {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	from, err := parseAddr(params.From)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	paid, err := s.engine.WithdrawAll(from)
	return s.finishMutation(w, req, "withdraw_all", map[string]string{"withdrawn": weiString(paid)}, err)
}

func (s *Server) handleWithdrawAllMany(w http.ResponseWriter, req *RPCRequest) int {
	var params manyParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	addrs, err := parseAddrs(params.Addresses)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	results, err := s.engine.WithdrawAllForMany(addrs)
	return s.finishMutation(w, req, "withdraw_all_many", transferResults(results), err)
}

func (s *Server) handleSetContributionSettings(w http.ResponseWriter, req *RPCRequest) int {
	var params settingsParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	min, err := parseAmount(params.MinContribution)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	max, err := parseAmount(params.MaxContribution)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	maxPool, err := parseAmount(params.MaxPoolBalance)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	targets, err := parseAddrs(params.Targets)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.SetContributionSettings(caller, pool.Limits{
		MinContribution: min,
		MaxContribution: max,
		MaxPoolBalance:  maxPool,
	}, targets)
	return s.finishMutation(w, req, "set_contribution_settings", map[string]bool{"applied": err == nil}, err)
}

func (s *Server) handleModifyWhitelist(w http.ResponseWriter, req *RPCRequest) int {
	var params whitelistParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	add, err := parseAddrs(params.Add)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	remove, err := parseAddrs(params.Remove)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.ModifyWhitelist(caller, add, remove)
	return s.finishMutation(w, req, "modify_whitelist", map[string]bool{"applied": err == nil}, err)
}

func (s *Server) handleRemoveWhitelist(w http.ResponseWriter, req *RPCRequest) int {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.RemoveWhitelist(caller)
	return s.finishMutation(w, req, "remove_whitelist", map[string]bool{"applied": err == nil}, err)
}

func (s *Server) handleSetTokenDrops(w http.ResponseWriter, req *RPCRequest) int {
	var params tokenDropsParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.SetTokenDrops(caller, params.Drops)
	return s.finishMutation(w, req, "set_token_drops", map[string]bool{"applied": err == nil}, err)
}

func (s *Server) handleFail(w http.ResponseWriter, req *RPCRequest) int {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.Fail(caller)
	return s.finishMutation(w, req, "fail", map[string]string{"status": s.engine.Status().String()}, err)
}

func (s *Server) handlePayToPresale(w http.ResponseWriter, req *RPCRequest) int {
	var params payToPresaleParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	dest, err := parseAddr(params.Destination)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	minPoolBalance, err := parseAmount(params.MinPoolBalance)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	var data []byte
	if trimmed := strings.TrimSpace(params.DataHex); trimmed != "" {
		data = common.FromHex(trimmed)
	}
	err = s.engine.PayToPresale(caller, dest, minPoolBalance, value, data)
	return s.finishMutation(w, req, "pay_to_presale", map[string]string{"status": s.engine.Status().String()}, err)
}

func (s *Server) handleExpectRefund(w http.ResponseWriter, req *RPCRequest) int {
	var params expectRefundParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	sender, err := parseAddr(params.Sender)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.ExpectRefund(caller, sender)
	return s.finishMutation(w, req, "expect_refund", map[string]string{"status": s.engine.Status().String()}, err)
}

func (s *Server) handleRefundReceived(w http.ResponseWriter, req *RPCRequest) int {
	var params refundParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	from, err := parseAddr(params.From)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.RefundReceived(from, value)
	return s.finishMutation(w, req, "refund_received", map[string]bool{"accepted": err == nil}, err)
}

func (s *Server) handleConfirmTokens(w http.ResponseWriter, req *RPCRequest) int {
	var params confirmTokensParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	token, err := parseAddr(params.Token)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.ConfirmTokens(caller, token, params.RefundRemainingEther)
	return s.finishMutation(w, req, "confirm_tokens", map[string]bool{"confirmed": err == nil}, err)
}

func (s *Server) handleTokenFallback(w http.ResponseWriter, req *RPCRequest) int {
	var params tokenFallbackParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	token, err := parseAddr(params.Token)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	from, err := parseOptionalAddr(params.From)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.TokenFallback(token, from, value)
	return s.finishMutation(w, req, "token_fallback", map[string]bool{"accepted": err == nil}, err)
}

func (s *Server) handleTransferTokensTo(w http.ResponseWriter, req *RPCRequest) int {
	var params transferTokensParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	token, err := parseAddr(params.Token)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	var results []pool.TransferResult
	if len(params.Recipients) == 0 {
		results, err = s.engine.TransferTokensToAll(caller, token)
	} else {
		var recipients []common.Address
		recipients, err = parseAddrs(params.Recipients)
		if err != nil {
			return s.writeInvalidParams(w, req.ID, err)
		}
		results, err = s.engine.TransferTokensTo(caller, token, recipients)
	}
	return s.finishMutation(w, req, "transfer_tokens", transferResults(results), err)
}

func (s *Server) handleAirdropEther(w http.ResponseWriter, req *RPCRequest) int {
	var params airdropEtherParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	gasPrice, err := parseAmount(params.GasPrice)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	recipient, err := parseOptionalAddr(params.GasFeeRecipient)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.AirdropEther(caller, value, gasPrice, recipient)
	return s.finishMutation(w, req, "airdrop_ether", map[string]bool{"accepted": err == nil}, err)
}

func (s *Server) handleAirdropTokens(w http.ResponseWriter, req *RPCRequest) int {
	var params airdropTokensParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	token, err := parseAddr(params.Token)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	gasPrice, err := parseAmount(params.GasPrice)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	recipient, err := parseOptionalAddr(params.GasFeeRecipient)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.AirdropTokens(caller, token, value, gasPrice, recipient)
	return s.finishMutation(w, req, "airdrop_tokens", map[string]bool{"accepted": err == nil}, err)
}

func (s *Server) handleTransferFees(w http.ResponseWriter, req *RPCRequest) int {
	err := s.engine.TransferAndDistributeFees()
	return s.finishMutation(w, req, "transfer_fees", map[string]bool{"distributed": err == nil}, err)
}

func (s *Server) handleDiscountFees(w http.ResponseWriter, req *RPCRequest) int {
	var params discountFeesParams
	if err := decodeParams(req, &params); err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	creatorFee, err := parseAmount(params.CreatorFeesPerEther)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	teamFee, err := parseAmount(params.TeamFeesPerEther)
	if err != nil {
		return s.writeInvalidParams(w, req.ID, err)
	}
	err = s.engine.DiscountFees(caller, creatorFee, teamFee)
	if err == nil && s.fees != nil {
		err = s.fees.DiscountFees(caller, s.poolID, creatorFee, teamFee)
	}
	return s.finishMutation(w, req, "discount_fees", map[string]bool{"applied": err == nil}, err)
}

func (s *Server) handleBalances(w http.ResponseWriter, req *RPCRequest) int {
	balances := s.engine.ParticipantBalances()
	entries := make([]balanceEntry, 0, len(balances.Addresses))
	for i, addr := range balances.Addresses {
		entries = append(entries, balanceEntry{
			Address:      addr.Hex(),
			Contribution: weiString(balances.Contributions[i]),
			Remaining:    weiString(balances.Remainings[i]),
			Whitelisted:  balances.Whitelisted[i],
			Exists:       balances.Exists[i],
		})
	}
	writeResult(w, req.ID, entries)
	return http.StatusOK
}

func (s *Server) handleStatus(w http.ResponseWriter, req *RPCRequest) int {
	writeResult(w, req.ID, statusResult{
		Pool:                    s.poolID.Hex(),
		Status:                  s.engine.Status().String(),
		PoolContributionBalance: weiString(s.engine.PoolContributionBalance()),
		TotalContributors:       s.engine.TotalContributors(),
		HeldBalance:             weiString(s.engine.HeldBalance()),
	})
	return http.StatusOK
}
