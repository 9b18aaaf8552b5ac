package xe

import "github.com/go-orz/orz"

var (
	ErrInvalidParams    = orz.NewError(10400, "参数无效")
	ErrInvalidToken     = orz.NewError(10403, "令牌无效")
	ErrPermissionDenied = orz.NewError(10401, "您没有权限查看/修改/删除此数据")

	ErrStrategyNotFound   = orz.NewError(10100, "策略不存在")
	ErrStrategyRunning    = orz.NewError(10101, "策略运行中，请先停止")
	ErrStrategyNotRunning = orz.NewError(10102, "策略未在运行")
	ErrInvalidPriceRange  = orz.NewError(10103, "价格区间无效：min_price必须小于max_price")
	ErrInvalidRate        = orz.NewError(10104, "费率或比例参数无效")
	ErrInvalidSegments    = orz.NewError(10105, "价格分层必须连续覆盖整个价格区间")
	ErrMockOnly           = orz.NewError(10106, "该操作仅在模拟模式下可用")
	ErrBacktestData       = orz.NewError(10107, "回测数据不足")
)
