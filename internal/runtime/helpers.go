package runtime

import (
	"github.com/tjfontaine/restpipe/internal/auth"
	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/paging"
	"github.com/tjfontaine/restpipe/internal/pipe"
	"github.com/tjfontaine/restpipe/internal/pkg/config"
	"github.com/tjfontaine/restpipe/internal/store"
)

// pipeConfig converts a configuration entry. The auth module reference is
// resolved by the caller.
func pipeConfig(pc config.PipeConfig) pipe.Config {
	return pipe.Config{
		Name:               pc.Name,
		Type:               pc.Type,
		Endpoint:           pc.Endpoint,
		BaseURL:            pc.BaseURL,
		RecordID:           pc.RecordID,
		ParameterProvider:  domain.CloneParams(pc.Params),
		Offset:             pc.Offset,
		Limit:              pc.Limit,
		MetadataLocation:   paging.Location(pc.MetadataLocation),
		NextIdentifier:     pc.NextIdentifier,
		PreviousIdentifier: pc.PreviousIdentifier,
		Timeout:            pc.Timeout,
	}
}

func authConfig(ac config.AuthModuleConfig) auth.Config {
	return auth.Config{
		Name:            ac.Name,
		Type:            ac.Type,
		BaseURL:         ac.BaseURL,
		LoginEndpoint:   ac.LoginEndpoint,
		LogoutEndpoint:  ac.LogoutEndpoint,
		EnrollEndpoint:  ac.EnrollEndpoint,
		TokenHeaderName: ac.TokenHeaderName,
		Timeout:         ac.Timeout,
	}
}

func storeConfig(sc config.StoreConfig) store.Config {
	return store.Config{
		Name:     sc.Name,
		Type:     sc.Type,
		RecordID: sc.RecordID,
		Path:     sc.Path,
	}
}
