package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vitwit/xrpfi/types"
	"github.com/vitwit/xrpfi/utils"
	"github.com/vitwit/xrpfi/xrpl"
)

const serviceName = "XRPfi Yield Maximizer API"

func (s *Server) info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": serviceName, "version": s.cfg.Version, "status": "running"})
}

func (s *Server) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.quoter.Strategies()})
}

func (s *Server) getStrategy(c *gin.Context) {
	st, ok := s.quoter.Strategy(c.Param("id"))
	if !ok {
		writeError(c, types.NewError(types.ErrCodeNotFound, "strategy %q not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) prepare(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, types.WrapError(types.ErrCodeInvalidRequest, err, "read body"))
		return
	}
	req, err := utils.ParsePrepareRequest(body)
	if err != nil {
		writeError(c, err)
		return
	}
	resp, err := s.quoter.Prepare(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getStatus(c *gin.Context) {
	hash, err := utils.ValidateTransactionHash(c.Param("hash"))
	if err != nil {
		writeError(c, err)
		return
	}
	tx, err := s.store.Get(c.Request.Context(), hash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) listByAddress(c *gin.Context) {
	address := c.Param("address")
	if err := utils.ValidateSourceAddress(address); err != nil {
		writeError(c, err)
		return
	}
	txs, err := s.store.ListByAddress(c.Request.Context(), address)
	if err != nil {
		writeError(c, err)
		return
	}
	if txs == nil {
		txs = []*types.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "transactions": txs})
}

func (s *Server) retry(c *gin.Context) {
	hash, err := utils.ValidateTransactionHash(c.Param("hash"))
	if err != nil {
		writeError(c, err)
		return
	}
	tx, err := s.retrier.Retry(c.Request.Context(), hash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, tx)
}

func (s *Server) getHoldings(c *gin.Context) {
	address := c.Param("address")
	dest, err := utils.ResolveDestination(address)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"flareAddress": dest.Hex(), "holdings": s.chain.GetHoldings(c.Request.Context(), dest)}
	if xrpl.IsValidClassicAddress(address) {
		resp["xrplAddress"] = address
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listVaults(c *gin.Context) {
	vaults := make([]*types.VaultStatus, 0, len(s.chain.Vaults()))
	for _, v := range s.chain.Vaults() {
		st, err := s.chain.VaultStatus(c.Request.Context(), v.ID)
		if err != nil {
			s.logger.Warn("vault status unavailable", map[string]any{"vault": v.Name, "error": err})
			continue
		}
		vaults = append(vaults, st)
	}
	c.JSON(http.StatusOK, gin.H{"vaults": vaults})
}

// getVault accepts a numeric vault id or a vault kind such as "firelight".
func (s *Server) getVault(c *gin.Context) {
	ref := c.Param("id")
	id, ok := s.vaultID(ref)
	if !ok {
		writeError(c, types.NewError(types.ErrCodeNotFound, "vault %q not found", ref))
		return
	}
	st, err := s.chain.VaultStatus(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) vaultID(ref string) (uint32, bool) {
	if n, err := strconv.ParseUint(ref, 10, 32); err == nil {
		return uint32(n), true
	}
	for _, v := range s.chain.Vaults() {
		if string(v.Kind) == ref {
			return v.ID, true
		}
	}
	return 0, false
}

func (s *Server) getQueue(c *gin.Context) {
	counts, err := s.store.CountByStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	queued := 0
	if s.queue != nil {
		queued = s.queue.Pending()
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts, "queued": queued})
}

// getOperator reports balances best effort; an unreachable chain reads as zero.
func (s *Server) getOperator(c *gin.Context) {
	native, asset, err := s.chain.OperatorBalances(c.Request.Context())
	if err != nil {
		s.logger.Warn("operator balances unavailable", map[string]any{"error": err})
		native, asset = "0", "0"
	}
	c.JSON(http.StatusOK, gin.H{
		"xrplAddress":      s.cfg.OperatorAddress,
		"flareAddress":     s.chain.Operator().Hex(),
		"flareBalance":     native,
		"fxrpBalance":      asset,
		"fxrpTokenAddress": s.cfg.AssetToken,
	})
}
