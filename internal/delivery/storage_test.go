package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nao1215/courier/pkg/event"
)

// fakeProfileStore はテスト用のインメモリProfileStore。
type fakeProfileStore struct {
	// profiles は受信者IDをキーとするプロファイルの集合。
	profiles map[string]*event.Profile
	// err が設定されている場合、すべての参照がこのエラーで失敗する。
	err error
	// calls は参照の呼び出し回数。
	calls int
}

func (f *fakeProfileStore) FindByRecipient(_ context.Context, recipientID string) (*event.Profile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[recipientID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

// fakeBlobStore はテスト用のインメモリContentBlobStore。
type fakeBlobStore struct {
	// blobs は "messageID/recipientID" をキーとする本文の集合。
	blobs map[string][]byte
	// err が設定されている場合、すべての書き込みがこのエラーで失敗する。
	err error
	// puts は書き込みの呼び出し回数。
	puts int
}

func (f *fakeBlobStore) Put(_ context.Context, messageID, recipientID string, content []byte) error {
	f.puts++
	if f.err != nil {
		return f.err
	}
	if f.blobs == nil {
		f.blobs = make(map[string][]byte)
	}
	f.blobs[messageID+"/"+recipientID] = append([]byte(nil), content...)
	return nil
}

// fakeRecordStore はテスト用のインメモリMessageRecordStore。
type fakeRecordStore struct {
	// pending は "messageID/recipientID" をキーとするpendingフラグの状態。
	pending map[string]bool
	// err が設定されている場合、すべての更新がこのエラーで失敗する。
	err error
	// sets は更新の呼び出し回数。
	sets int
}

func (f *fakeRecordStore) SetPending(_ context.Context, messageID, recipientID string, pending bool) error {
	f.sets++
	if f.err != nil {
		return f.err
	}
	if f.pending == nil {
		f.pending = make(map[string]bool)
	}
	f.pending[messageID+"/"+recipientID] = pending
	return nil
}

// enabledProfile は受信箱が有効なテスト用プロファイルを生成する。
func enabledProfile(recipientID string) *event.Profile {
	return &event.Profile{
		RecipientID:    recipientID,
		IsInboxEnabled: true,
	}
}

// messageJSON はテスト用メッセージイベントのJSONバイト列を生成する。
func messageJSON(t *testing.T, msg event.Message) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("メッセージのシリアライズに失敗: %v", err)
	}
	return data
}

// testMessage はテスト用のメッセージイベントを生成する。
func testMessage() event.Message {
	return event.Message{
		ID:              "msg-1",
		RecipientID:     "user-1",
		SenderServiceID: "svc-news",
		SenderUserID:    "writer-1",
		Content:         "こんにちは",
		SenderMetadata:  event.SenderMetadata{Version: 1},
	}
}

// TestStorageStageProfileGate はプロファイルのポリシー判定を検証する。
func TestStorageStageProfileGate(t *testing.T) {
	t.Parallel()

	t.Run("プロファイルが存在しない場合はPROFILE_NOT_FOUND", func(t *testing.T) {
		t.Parallel()
		profiles := &fakeProfileStore{profiles: map[string]*event.Profile{}}
		blobs := &fakeBlobStore{}
		records := &fakeRecordStore{}
		stage := NewStorageStage(profiles, blobs, records)

		result, err := stage.Execute(context.Background(), messageJSON(t, testMessage()))
		if err != nil {
			t.Fatalf("エラーが返されてはいけません: %v", err)
		}
		if result.Failure == nil || result.Failure.Reason != FailureProfileNotFound {
			t.Errorf("結果: got %+v, want FAILURE(PROFILE_NOT_FOUND)", result)
		}
		if blobs.puts != 0 {
			t.Errorf("本文書き込み回数: got %d, want 0", blobs.puts)
		}
		if records.sets != 0 {
			t.Errorf("フラグ更新回数: got %d, want 0", records.sets)
		}
	})

	t.Run("受信箱が無効な場合はブロックリストに関係なくMASTER_INBOX_DISABLED", func(t *testing.T) {
		t.Parallel()
		profile := &event.Profile{
			RecipientID:    "user-1",
			IsInboxEnabled: false,
			BlockedInboxOrChannels: map[string][]event.Channel{
				"svc-news": {event.ChannelInbox},
			},
		}
		profiles := &fakeProfileStore{profiles: map[string]*event.Profile{"user-1": profile}}
		blobs := &fakeBlobStore{}
		records := &fakeRecordStore{}
		stage := NewStorageStage(profiles, blobs, records)

		result, err := stage.Execute(context.Background(), messageJSON(t, testMessage()))
		if err != nil {
			t.Fatalf("エラーが返されてはいけません: %v", err)
		}
		if result.Failure == nil || result.Failure.Reason != FailureMasterInboxDisabled {
			t.Errorf("結果: got %+v, want FAILURE(MASTER_INBOX_DISABLED)", result)
		}
		if blobs.puts != 0 {
			t.Errorf("本文書き込み回数: got %d, want 0", blobs.puts)
		}
	})

	t.Run("送信元の受信箱配信がブロックされている場合はSENDER_BLOCKED", func(t *testing.T) {
		t.Parallel()
		profile := enabledProfile("user-1")
		profile.BlockedInboxOrChannels = map[string][]event.Channel{
			"svc-news": {event.ChannelInbox},
		}
		profiles := &fakeProfileStore{profiles: map[string]*event.Profile{"user-1": profile}}
		blobs := &fakeBlobStore{}
		records := &fakeRecordStore{}
		stage := NewStorageStage(profiles, blobs, records)

		result, err := stage.Execute(context.Background(), messageJSON(t, testMessage()))
		if err != nil {
			t.Fatalf("エラーが返されてはいけません: %v", err)
		}
		if result.Failure == nil || result.Failure.Reason != FailureSenderBlocked {
			t.Errorf("結果: got %+v, want FAILURE(SENDER_BLOCKED)", result)
		}
		if blobs.puts != 0 {
			t.Errorf("本文書き込み回数: got %d, want 0", blobs.puts)
		}
	})

	t.Run("別チャネルのブロックだけなら受信箱配信は通過する", func(t *testing.T) {
		t.Parallel()
		profile := enabledProfile("user-1")
		profile.BlockedInboxOrChannels = map[string][]event.Channel{
			"svc-news": {event.ChannelEmail, event.ChannelWebhook},
		}
		profiles := &fakeProfileStore{profiles: map[string]*event.Profile{"user-1": profile}}
		stage := NewStorageStage(profiles, &fakeBlobStore{}, &fakeRecordStore{})

		result, err := stage.Execute(context.Background(), messageJSON(t, testMessage()))
		if err != nil {
			t.Fatalf("エラーが返されてはいけません: %v", err)
		}
		if !result.IsSuccess() {
			t.Fatalf("結果: got %+v, want SUCCESS", result)
		}
		if len(result.Success.BlockedChannels) != 2 {
			t.Errorf("ブロックチャネル数: got %d, want 2", len(result.Success.BlockedChannels))
		}
	})

	t.Run("他送信元のブロックは影響しない", func(t *testing.T) {
		t.Parallel()
		profile := enabledProfile("user-1")
		profile.BlockedInboxOrChannels = map[string][]event.Channel{
			"svc-ads": {event.ChannelInbox},
		}
		profiles := &fakeProfileStore{profiles: map[string]*event.Profile{"user-1": profile}}
		stage := NewStorageStage(profiles, &fakeBlobStore{}, &fakeRecordStore{})

		result, err := stage.Execute(context.Background(), messageJSON(t, testMessage()))
		if err != nil {
			t.Fatalf("エラーが返されてはいけません: %v", err)
		}
		if !result.IsSuccess() {
			t.Errorf("結果: got %+v, want SUCCESS", result)
		}
		if len(result.Success.BlockedChannels) != 0 {
			t.Errorf("ブロックチャネル数: got %d, want 0", len(result.Success.BlockedChannels))
		}
	})
}

// TestStorageStageSuccess は成功パスの永続化と可視化を検証する。
func TestStorageStageSuccess(t *testing.T) {
	t.Parallel()

	t.Run("本文が保存されpendingフラグが解除される", func(t *testing.T) {
		t.Parallel()
		profiles := &fakeProfileStore{profiles: map[string]*event.Profile{"user-1": enabledProfile("user-1")}}
		blobs := &fakeBlobStore{}
		records := &fakeRecordStore{}
		stage := NewStorageStage(profiles, blobs, records)

		result, err := stage.Execute(context.Background(), messageJSON(t, testMessage()))
		if err != nil {
			t.Fatalf("エラーが返されてはいけません: %v", err)
		}
		if !result.IsSuccess() {
			t.Fatalf("結果: got %+v, want SUCCESS", result)
		}
		if result.Success.Profile.RecipientID != "user-1" {
			t.Errorf("プロファイルの受信者ID: got %s, want user-1", result.Success.Profile.RecipientID)
		}

		if got := string(blobs.blobs["msg-1/user-1"]); got != "こんにちは" {
			t.Errorf("保存された本文: got %q, want こんにちは", got)
		}
		pending, ok := records.pending["msg-1/user-1"]
		if !ok || pending {
			t.Errorf("pendingフラグ: got %v(設定済み=%v), want false", pending, ok)
		}
	})

	t.Run("同一入力の再実行は観測可能な状態を変えない", func(t *testing.T) {
		t.Parallel()
		profiles := &fakeProfileStore{profiles: map[string]*event.Profile{"user-1": enabledProfile("user-1")}}
		blobs := &fakeBlobStore{}
		records := &fakeRecordStore{}
		stage := NewStorageStage(profiles, blobs, records)

		raw := messageJSON(t, testMessage())
		for i := 0; i < 2; i++ {
			result, err := stage.Execute(context.Background(), raw)
			if err != nil {
				t.Fatalf("%d回目の実行でエラー: %v", i+1, err)
			}
			if !result.IsSuccess() {
				t.Fatalf("%d回目の実行結果: got %+v, want SUCCESS", i+1, result)
			}
		}

		if len(blobs.blobs) != 1 {
			t.Errorf("保存された本文の数: got %d, want 1", len(blobs.blobs))
		}
		if got := string(blobs.blobs["msg-1/user-1"]); got != "こんにちは" {
			t.Errorf("保存された本文: got %q, want こんにちは", got)
		}
		if pending := records.pending["msg-1/user-1"]; pending {
			t.Error("pendingフラグ: got true, want false")
		}
	})
}

// TestStorageStageBadData は不正入力の扱いを検証する。
func TestStorageStageBadData(t *testing.T) {
	t.Parallel()

	t.Run("復号できない入力はBAD_DATAでストアにアクセスしない", func(t *testing.T) {
		t.Parallel()
		profiles := &fakeProfileStore{}
		blobs := &fakeBlobStore{}
		records := &fakeRecordStore{}
		stage := NewStorageStage(profiles, blobs, records)

		result, err := stage.Execute(context.Background(), []byte(`{broken`))
		if err != nil {
			t.Fatalf("エラーが返されてはいけません: %v", err)
		}
		if result.Failure == nil || result.Failure.Reason != FailureBadData {
			t.Errorf("結果: got %+v, want FAILURE(BAD_DATA)", result)
		}
		if profiles.calls != 0 || blobs.puts != 0 || records.sets != 0 {
			t.Errorf("ストアアクセスが発生しています: profiles=%d, blobs=%d, records=%d",
				profiles.calls, blobs.puts, records.sets)
		}
	})

	t.Run("必須フィールド欠落はBAD_DATA", func(t *testing.T) {
		t.Parallel()
		profiles := &fakeProfileStore{}
		stage := NewStorageStage(profiles, &fakeBlobStore{}, &fakeRecordStore{})

		msg := testMessage()
		msg.RecipientID = ""
		result, err := stage.Execute(context.Background(), messageJSON(t, msg))
		if err != nil {
			t.Fatalf("エラーが返されてはいけません: %v", err)
		}
		if result.Failure == nil || result.Failure.Reason != FailureBadData {
			t.Errorf("結果: got %+v, want FAILURE(BAD_DATA)", result)
		}
		if profiles.calls != 0 {
			t.Errorf("プロファイル参照回数: got %d, want 0", profiles.calls)
		}
	})
}

// TestStorageStageInfraError はインフラ障害がエラーとして返ることを検証する。
func TestStorageStageInfraError(t *testing.T) {
	t.Parallel()

	t.Run("プロファイル参照の障害はエラーとして返る", func(t *testing.T) {
		t.Parallel()
		profiles := &fakeProfileStore{err: errors.New("接続タイムアウト")}
		stage := NewStorageStage(profiles, &fakeBlobStore{}, &fakeRecordStore{})

		result, err := stage.Execute(context.Background(), messageJSON(t, testMessage()))
		if err == nil {
			t.Fatal("エラーが返されるべきです")
		}
		if !IsInfra(err) {
			t.Errorf("IsInfra: got false, want true (err=%v)", err)
		}
		if result != nil {
			t.Errorf("結果: got %+v, want nil", result)
		}
	})

	t.Run("本文書き込みの障害はエラーとして返りフラグは解除されない", func(t *testing.T) {
		t.Parallel()
		profiles := &fakeProfileStore{profiles: map[string]*event.Profile{"user-1": enabledProfile("user-1")}}
		blobs := &fakeBlobStore{err: errors.New("ディスクフル")}
		records := &fakeRecordStore{}
		stage := NewStorageStage(profiles, blobs, records)

		_, err := stage.Execute(context.Background(), messageJSON(t, testMessage()))
		if !IsInfra(err) {
			t.Errorf("IsInfra: got false, want true (err=%v)", err)
		}
		if records.sets != 0 {
			t.Errorf("フラグ更新回数: got %d, want 0", records.sets)
		}
	})

	t.Run("フラグ解除の障害はエラーとして返る", func(t *testing.T) {
		t.Parallel()
		profiles := &fakeProfileStore{profiles: map[string]*event.Profile{"user-1": enabledProfile("user-1")}}
		records := &fakeRecordStore{err: errors.New("書き込み失敗")}
		stage := NewStorageStage(profiles, &fakeBlobStore{}, records)

		_, err := stage.Execute(context.Background(), messageJSON(t, testMessage()))
		if !IsInfra(err) {
			t.Errorf("IsInfra: got false, want true (err=%v)", err)
		}
	})
}
