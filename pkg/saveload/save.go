package saveload

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/ludic-games/contentfs/pkg/savecontainer"
	"github.com/ludic-games/contentfs/pkg/util"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *Service) processSave(ctx context.Context, req *saveRequest) {
	st := s.ensureSlotLoaded(req.slot)

	delta := diffMaps(st.checkpoint, req.fullMap)
	guid := s.SessionGUID()

	metadata := savecontainer.Metadata{
		Version:          req.version,
		SessionGUID:      guid,
		TransactionIDMin: st.transactionIDMin,
		TransactionIDMax: st.transactionIDMax + 1,
	}

	localResult := LocalResultSuccess
	var opErr error

	blob, err := s.container.Encode(metadata, req.fullMap, delta)
	if err != nil {
		localResult = LocalResultWriteFailure
		opErr = err
	} else if err := s.cfg.LocalAPI.Save(s.slotPath(req.slot), blob); err != nil {
		localResult = LocalResultWriteFailure
		opErr = err
	}

	if localResult == LocalResultSuccess {
		st.checkpoint = req.fullMap
		st.pendingDelta = delta
		st.metadataVersion = req.version
		st.transactionIDMax = metadata.TransactionIDMax
	}

	cloudResult := CloudResultNotAttempted
	if req.cloudURL != "" && localResult == LocalResultSuccess {
		if req.forceImmediateCloud || s.cloudSaveAllowed(st) {
			var cloudErr error
			cloudResult, cloudErr = s.attemptCloudSave(ctx, req, st, delta, guid)
			st.lastCloudSave = s.cfg.Clock.Now()
			if cloudErr != nil {
				opErr = cloudErr
			}
			if cloudResult == CloudResultSuccess || cloudResult == CloudResultSuccessWithMetadata {
				st.transactionIDMin = st.transactionIDMax
				st.pendingDelta = nil
				confirmMetadata := metadata
				confirmMetadata.TransactionIDMin = st.transactionIDMin
				if blob2, err2 := s.container.Encode(confirmMetadata, req.fullMap, nil); err2 == nil {
					_ = s.cfg.LocalAPI.Save(s.slotPath(req.slot), blob2)
				}
			}
		}
	}

	finalResult := FinalResultSuccess
	if localResult != LocalResultSuccess {
		finalResult = FinalResultError
	}
	s.deliverSave(req, SaveOutcome{LocalResult: localResult, CloudResult: cloudResult, FinalResult: finalResult}, opErr)
}

// cloudSaveAllowed reports whether req.slot's per-slot 30-second (by
// default) cloud-save rate limit currently permits a non-forced cloud
// attempt.
func (s *Service) cloudSaveAllowed(st *slotState) bool {
	if st.lastCloudSave.IsZero() {
		return true
	}
	return s.cfg.Clock.Now().Sub(st.lastCloudSave) >= s.cfg.CloudSaveRateLimit
}

func (s *Service) attemptCloudSave(ctx context.Context, req *saveRequest, st *slotState, delta map[string]interface{}, guid uuid.UUID) (CloudResult, error) {
	result, err := s.postSaveOnce(ctx, req, delta, guid)
	if result == CloudResultServerNeedsFullCheckpoint {
		result, err = s.postSaveOnce(ctx, req, req.fullMap, guid)
	}
	return result, err
}

func (s *Service) postSaveOnce(ctx context.Context, req *saveRequest, delta map[string]interface{}, guid uuid.UUID) (CloudResult, error) {
	deltaBytes, err := cbor.Marshal(nonNilMap(delta))
	if err != nil {
		return CloudResultPermanentFailure, err
	}
	fullBytes, err := cbor.Marshal(req.fullMap)
	if err != nil {
		return CloudResultPermanentFailure, err
	}
	targetMD5 := md5Sum(fullBytes)

	backoff := util.NewBackoff(s.cfg.BackoffBase, s.cfg.BackoffGrowth, s.cfg.BackoffMax)
	for {
		resp, err := postCloud(ctx, s.cfg.HTTPClient, req.cloudURL, deltaBytes, targetMD5)
		if err != nil {
			if !s.cfg.ResendOnFailure {
				return CloudResultTransientFailure, err
			}
			if waitErr := s.waitBackoff(ctx, backoff); waitErr != nil {
				return CloudResultTransientFailure, waitErr
			}
			continue
		}

		switch {
		case resp.status == CloudStatusSuccess:
			return CloudResultSuccess, nil
		case resp.status == CloudStatusSuccessWithMetadata:
			return CloudResultSuccessWithMetadata, verifyEchoedMetadata(resp.body, guid)
		case resp.status == CloudStatusServerNeedsFullCheckpoint:
			return CloudResultServerNeedsFullCheckpoint, nil
		case isTransientCloudStatus(resp.status):
			if !s.cfg.ResendOnFailure {
				return CloudResultTransientFailure, status.Errorf(codes.Unavailable, "saveload: transient cloud status %d", resp.status)
			}
			if waitErr := s.waitBackoff(ctx, backoff); waitErr != nil {
				return CloudResultTransientFailure, waitErr
			}
			continue
		default:
			return CloudResultPermanentFailure, status.Errorf(codes.PermissionDenied, "saveload: permanent cloud status %d", resp.status)
		}
	}
}

func (s *Service) waitBackoff(ctx context.Context, backoff *util.Backoff) error {
	timer, ch := s.cfg.Clock.NewTimer(backoff.Next())
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return util.StatusFromContext(ctx)
	}
}

func verifyEchoedMetadata(body []byte, guid uuid.UUID) error {
	if len(body) == 0 {
		return nil
	}
	var echo cloudMetadataEcho
	if err := cbor.Unmarshal(body, &echo); err != nil {
		return status.Errorf(codes.DataLoss, "saveload: malformed cloud metadata echo: %s", err)
	}
	var want [16]byte
	copy(want[:], guid[:])
	if echo.SessionGUID != want {
		return status.Error(codes.FailedPrecondition, "saveload: cloud echoed a different session_guid")
	}
	return nil
}
