package delivery

import (
	"context"
	"errors"
	"log"
	"slices"

	"github.com/nao1215/courier/pkg/event"
)

// StorageStage はメッセージ本文の永続化と可視化を行う最初のアクティビティ。
//
// プロファイルのポリシー判定 → 本文の保存 → pendingフラグの解除を
// 順に実行する。本文の保存が完了するまでpendingフラグは解除されない。
// どのステップも再実行に対して安全であり、ディスパッチャーは同一入力で
// このアクティビティを何度でも呼び出せる。
type StorageStage struct {
	// profiles は受信者プロファイルの参照先。
	profiles ProfileStore
	// blobs はメッセージ本文の保存先。
	blobs ContentBlobStore
	// records は保存済みメッセージレコードの操作先。
	records MessageRecordStore
}

// NewStorageStage は新しいストレージアクティビティを生成する。
func NewStorageStage(profiles ProfileStore, blobs ContentBlobStore, records MessageRecordStore) *StorageStage {
	return &StorageStage{
		profiles: profiles,
		blobs:    blobs,
		records:  records,
	}
}

// Execute はストレージアクティビティを実行する。
//
// 終局的な結果（成功・業務上の失敗）はStageResultとして返す。
// エラーが返るのはインフラ障害の場合のみであり、呼び出し側は
// アクティビティ全体をリトライする。ここで終局的な結果を返して
// しまうとメッセージ本文が恒久的に失われるため、障害の分類を
// 誤ってはならない。
func (s *StorageStage) Execute(ctx context.Context, raw []byte) (*StageResult, error) {
	// 復号できない入力は終局的な失敗。ストアへのアクセスは行わない。
	msg, err := event.Decode[event.Message](raw)
	if err != nil || !validMessage(msg) {
		log.Printf("[Delivery] 不正な入力を受信しました: %v", err)
		return NewStageFailure(FailureBadData), nil
	}

	result, err := s.profileGate(ctx, msg.RecipientID, msg.SenderServiceID)
	if err != nil {
		return nil, err
	}
	if !result.IsSuccess() {
		return result, nil
	}

	// 本文を保存する。部分書き込みが残っていても上書きされるため、
	// リトライ後の再実行は同一バイト列の再書き込みとなる。
	if err := s.blobs.Put(ctx, msg.ID, msg.RecipientID, []byte(msg.Content)); err != nil {
		return nil, &InfraError{Op: "メッセージ本文の保存", Err: err}
	}

	// 本文が永続化された後にのみpendingフラグを解除する。
	// false→falseの再設定は読み取り側から観測不能なno-op。
	if err := s.records.SetPending(ctx, msg.ID, msg.RecipientID, false); err != nil {
		return nil, &InfraError{Op: "pendingフラグの解除", Err: err}
	}

	return result, nil
}

// profileGate はプロファイルを参照し、受信箱レベルのポリシーを適用する。
//
// プロファイル不在・受信箱無効・送信元ブロックは終局的な失敗として
// StageResultで返す。参照自体のインフラ障害はエラーとして返す。
func (s *StorageStage) profileGate(ctx context.Context, recipientID, senderServiceID string) (*StageResult, error) {
	profile, err := s.profiles.FindByRecipient(ctx, recipientID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return NewStageFailure(FailureProfileNotFound), nil
		}
		return nil, &InfraError{Op: "プロファイルの参照", Err: err}
	}

	if !profile.IsInboxEnabled {
		return NewStageFailure(FailureMasterInboxDisabled), nil
	}

	blocked := profile.BlockedChannelsFor(senderServiceID)
	if slices.Contains(blocked, event.ChannelInbox) {
		return NewStageFailure(FailureSenderBlocked), nil
	}

	return NewStageSuccess(*profile, blocked), nil
}

// validMessage はメッセージイベントが必須フィールドを持つかどうかを返す。
func validMessage(m *event.Message) bool {
	return m.ID != "" && m.RecipientID != "" && m.SenderServiceID != ""
}
