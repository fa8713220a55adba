package strategy

import (
	"fmt"

	"marlin/internal/config/loader"
	"marlin/internal/pkg/convert"
)

// Build constructs a strategy instance from a profile definition.
func Build(def loader.ProfileDefinition) (Strategy, error) {
	switch def.Kind {
	case "momentum":
		return NewMomentum(MomentumConfig{
			ID:         def.ID,
			Period:     paramInt(def.Params, "period"),
			Overbought: paramFloat(def.Params, "overbought"),
			Oversold:   paramFloat(def.Params, "oversold"),
			Quantity:   paramFloat(def.Params, "quantity"),
			WindowMax:  paramInt(def.Params, "window_max"),
		}), nil
	case "mean_reversion":
		return NewMeanReversion(MeanRevConfig{
			ID:        def.ID,
			Period:    paramInt(def.Params, "period"),
			BandWidth: paramFloat(def.Params, "band_width"),
			Quantity:  paramFloat(def.Params, "quantity"),
			WindowMax: paramInt(def.Params, "window_max"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown strategy kind: %s", def.Kind)
	}
}

func paramFloat(params map[string]any, key string) float64 {
	if params == nil {
		return 0
	}
	f, err := convert.ToFloat64(params[key])
	if err != nil {
		return 0
	}
	return f
}

func paramInt(params map[string]any, key string) int {
	return int(paramFloat(params, key))
}
